package gateway

import (
	"time"

	"github.com/uhyunpark/perpgate/pkg/sequencer"
)

// Event reports the terminal state of a submission
type Event struct {
	CorrelationID string          `json:"correlation_id"`
	Kind          string          `json:"kind"`
	MarketID      string          `json:"market_id,omitempty"`
	State         sequencer.State `json:"state"`
	OrderID       uint64          `json:"order_id,omitempty"`
	TxHash        string          `json:"tx_hash,omitempty"`
	Code          string          `json:"code,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	Time          time.Time       `json:"time"`
}

// Subscribe registers fn to receive submission events.
// fn runs on the submitting goroutine and must not block.
func (c *Client) Subscribe(fn func(Event)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Client) publish(sub *sequencer.Submission, labels map[string]string) {
	// discarded before sending: nothing happened worth reporting
	if sub == nil || sub.State == sequencer.Constructed {
		return
	}

	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	ev := Event{
		CorrelationID: sub.CorrelationID,
		MarketID:      labels["market_id"],
		State:         sub.State,
		Attempts:      sub.Attempts,
		Time:          sub.UpdatedAt,
	}
	if sub.Message != nil {
		ev.Kind = sub.Message.Kind.String()
	}
	if sub.Ack != nil {
		ev.OrderID = sub.Ack.OrderID
		ev.TxHash = sub.Ack.TxHash
	}
	if sub.Rejection != nil {
		ev.Code = sub.Rejection.Code
	}
	if sub.Err != nil {
		ev.Error = sub.Err.Error()
	}
	for _, fn := range listeners {
		fn(ev)
	}
}
