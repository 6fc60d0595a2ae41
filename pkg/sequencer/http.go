package sequencer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
)

const (
	submitPath = "/v1/transactions"
	statusPath = "/v1/status"

	// IdempotencyHeader carries the correlation id
	IdempotencyHeader = "Idempotency-Key"

	maxResponseBytes = 1 << 20
)

// envelope is the JSON body of a submission
type envelope struct {
	TxID        string `json:"tx_id"`
	Version     uint8  `json:"version"`
	Kind        string `json:"kind"`
	Payload     string `json:"payload"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"public_key"`
	Nonce       uint64 `json:"nonce"`
	TimestampUs int64  `json:"timestamp_us"`
}

// HTTPTransport talks to the sequencer's HTTP submission endpoint
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates a transport for endpoint (e.g. http://localhost:9090).
// Timeouts come from the request context; client may be nil.
func NewHTTPTransport(endpoint string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Ack, error) {
	msg := req.Message
	if msg == nil || len(msg.Payload) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	body, err := json.Marshal(envelope{
		TxID:        req.CorrelationID,
		Version:     msg.Payload[0],
		Kind:        msg.Kind.String(),
		Payload:     hexutil.Encode(msg.Payload),
		Signature:   msg.SignatureHex(),
		PublicKey:   msg.Signer.String(),
		Nonce:       msg.Nonce,
		TimestampUs: req.SentAt.UnixMicro(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+submitPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(IdempotencyHeader, req.CorrelationID)

	status, respBody, err := t.do(httpReq)
	if err != nil {
		return nil, err
	}

	switch {
	case status >= 200 && status < 300:
		var ack Ack
		if err := json.Unmarshal(respBody, &ack); err != nil {
			return nil, fmt.Errorf("undecodable acknowledgement: %w", err)
		}
		return &ack, nil

	case status >= 400 && status < 500:
		rej := &Rejection{HTTPStatus: status}
		if err := json.Unmarshal(respBody, rej); err != nil || rej.Code == "" {
			rej.Code = fmt.Sprintf("HTTP_%d", status)
			if rej.Message == "" {
				rej.Message = strings.TrimSpace(string(respBody))
			}
		}
		return nil, rej

	default:
		return nil, fmt.Errorf("sequencer returned HTTP %d", status)
	}
}

func (t *HTTPTransport) Status(ctx context.Context) (*Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+statusPath, nil)
	if err != nil {
		return nil, err
	}

	status, body, err := t.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("sequencer status returned HTTP %d", status)
	}

	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("undecodable status: %w", err)
	}
	return &st, nil
}

func (t *HTTPTransport) do(req *http.Request) (int, []byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
