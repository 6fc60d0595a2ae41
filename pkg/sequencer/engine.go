package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/perpgate/pkg/transaction"
	"github.com/uhyunpark/perpgate/pkg/util"
)

// DefaultTimeout bounds every send
const DefaultTimeout = 10 * time.Second

// Transport delivers signed messages to the sequencer.
// Send returns *Rejection for a structured refusal; any other error means the
// outcome is unknown.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Ack, error)
	Status(ctx context.Context) (*Status, error)
}

// Engine drives submissions through Constructed -> InFlight -> terminal.
// Submissions are independent: the engine holds no per-submission state and
// no sequence counter, so it is safe for concurrent use.
type Engine struct {
	Transport Transport
	Timeout   time.Duration
	Clock     util.Clock
	Logger    *zap.SugaredLogger

	// Optional: best-effort persistence of state transitions
	Journal Journal
}

func NewEngine(transport Transport) *Engine {
	return &Engine{
		Transport: transport,
		Timeout:   DefaultTimeout,
		Clock:     util.RealClock{},
		Logger:    zap.NewNop().Sugar(),
	}
}

// Submit sends a signed message once.
// If ctx is already done the message is discarded unsent and ctx.Err() is returned.
// Orders are never resent by the engine; on ErrTransportFailed the caller must
// reconcile against the read node before deciding anything.
func (e *Engine) Submit(ctx context.Context, msg *transaction.SignedMessage, opts ...SubmitOption) (*Submission, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}

	now := e.now()
	sub := &Submission{
		CorrelationID: uuid.NewString(),
		Message:       msg,
		State:         Constructed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, opt := range opts {
		opt(sub)
	}

	if err := ctx.Err(); err != nil {
		e.log().Debugw("submission_discarded", "correlation_id", sub.CorrelationID, "kind", msg.Kind, "err", err)
		return sub, err
	}
	return sub, e.send(ctx, sub)
}

// Resubmit resends a cancel whose previous attempt ended in TransportFailed.
// The same signed bytes go out under the same correlation id, so a cancel the
// sequencer already applied is reported as gone rather than applied twice.
func (e *Engine) Resubmit(ctx context.Context, sub *Submission) error {
	if sub == nil || sub.Message == nil {
		return errors.New("nil submission")
	}
	if sub.Message.Kind != transaction.KindCancel {
		return fmt.Errorf("%w: %s messages are never resent", ErrNotRetryable, sub.Message.Kind)
	}
	if sub.State != TransportFailed {
		return fmt.Errorf("%w: state is %s", ErrNotRetryable, sub.State)
	}
	// an earlier attempt went out, so the outcome stays unknown
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: not resent: %w", ErrTransportFailed, err)
	}
	return e.send(ctx, sub)
}

// Status queries the sequencer's runtime status
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	st, err := e.Transport.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportFailed, err)
	}
	return st, nil
}

func (e *Engine) send(ctx context.Context, sub *Submission) error {
	sub.Attempts++
	sub.Ack, sub.Rejection, sub.Err = nil, nil, nil
	e.transition(sub, InFlight)

	log := e.log().With("correlation_id", sub.CorrelationID, "kind", sub.Message.Kind, "attempt", sub.Attempts)
	log.Debugw("submission_sent", "digest", sub.Message.Digest().Hex())

	sendCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	ack, err := e.Transport.Send(sendCtx, &Request{
		CorrelationID: sub.CorrelationID,
		Message:       sub.Message,
		SentAt:        e.now(),
	})

	var rej *Rejection
	switch {
	case err == nil && (ack == nil || ack.TxHash == ""):
		sub.Err = fmt.Errorf("%w: %w: acknowledgement without tx hash", ErrTransportFailed, ErrProtocolViolation)
		e.transition(sub, TransportFailed)
		log.Errorw("submission_protocol_violation", "err", sub.Err)

	case err == nil:
		sub.Ack = ack
		e.transition(sub, Acknowledged)
		log.Infow("submission_acknowledged",
			"order_id", ack.OrderID,
			"sequence_number", ack.SequenceNumber,
			"expected_tick", ack.ExpectedTick,
			"tx_hash", ack.TxHash,
		)

	case errors.As(err, &rej):
		sub.Rejection = rej
		sub.Err = rej
		e.transition(sub, Rejected)
		log.Warnw("submission_rejected", "code", rej.Code, "message", rej.Message, "http_status", rej.HTTPStatus)

	default:
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("no response within %s: %w", e.timeout(), err)
		}
		sub.Err = fmt.Errorf("%w: %w", ErrTransportFailed, err)
		e.transition(sub, TransportFailed)
		log.Warnw("submission_transport_failed", "err", err)
	}
	return sub.Err
}

func (e *Engine) transition(sub *Submission, to State) {
	sub.State = to
	sub.UpdatedAt = e.now()

	if e.Journal == nil {
		return
	}
	if err := e.Journal.Record(sub.Record()); err != nil {
		e.log().Warnw("journal_write_failed", "correlation_id", sub.CorrelationID, "state", to, "err", err)
	}
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Engine) log() *zap.SugaredLogger {
	return util.OrNop(e.Logger)
}
