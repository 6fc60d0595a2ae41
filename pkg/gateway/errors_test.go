package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/rpc"
	"github.com/uhyunpark/perpgate/pkg/sequencer"
	"github.com/uhyunpark/perpgate/pkg/transaction"
	"github.com/uhyunpark/perpgate/pkg/units"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rejection", &sequencer.Rejection{Code: "NOT_FOUND"}, SequencerRejection},
		{"wrapped rejection", fmt.Errorf("ctx: %w", &sequencer.Rejection{Code: "X"}), SequencerRejection},
		{"transport", fmt.Errorf("%w: boom", sequencer.ErrTransportFailed), TransportFailure},
		{"read node down", fmt.Errorf("%w: boom", rpc.ErrUnavailable), TransportFailure},
		{"canceled", context.Canceled, Canceled},
		{"encoding", transaction.ErrEncodingInvariant, EncodingInvariant},
		{"exponent changed", market.ErrExponentChanged, EncodingInvariant},
		{"precision", units.ErrPrecisionLoss, InputValidation},
		{"overflow", units.ErrOverflow, InputValidation},
		{"intent", transaction.ErrInvalidIntent, InputValidation},
		{"unknown market", market.ErrUnknownMarket, InputValidation},
		{"read 4xx", &rpc.StatusError{Status: 400}, InputValidation},
		{"not retryable", sequencer.ErrNotRetryable, InputValidation},
		{"unknown", errors.New("mystery"), TransportFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestWrapKeepsCodeAndChain(t *testing.T) {
	rej := &sequencer.Rejection{Code: "ALREADY_FILLED"}
	err := wrap("cancel_order", fmt.Errorf("send: %w", rej))

	var ge *Error
	assert.ErrorAs(t, err, &ge)
	assert.Equal(t, "ALREADY_FILLED", ge.Code)
	assert.ErrorIs(t, err, rej)
	assert.True(t, IsOrderGone(err))
	assert.Contains(t, err.Error(), "cancel_order: sequencer_rejection (ALREADY_FILLED)")

	// already classified errors pass through untouched
	assert.Same(t, ge, wrap("other", err))
	assert.Nil(t, wrap("noop", nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "transport_failure", TransportFailure.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}
