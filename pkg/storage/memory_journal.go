package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/perpgate/pkg/sequencer"
)

// MemoryJournal keeps records in process; contents are lost on exit
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[string]*sequencer.Record
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]*sequencer.Record)}
}

func (j *MemoryJournal) Record(rec *sequencer.Record) error {
	cp := *rec
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[rec.CorrelationID] = &cp
	return nil
}

func (j *MemoryJournal) Lookup(id string) (*sequencer.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sequencer.ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (j *MemoryJournal) Unresolved() ([]*sequencer.Record, error) {
	var out []*sequencer.Record
	for _, rec := range j.sorted() {
		if rec.State == sequencer.TransportFailed {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Recent returns up to limit records, newest first
func (j *MemoryJournal) Recent(limit int) ([]*sequencer.Record, error) {
	if limit <= 0 {
		return []*sequencer.Record{}, nil
	}
	all := j.sorted()
	out := make([]*sequencer.Record, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (j *MemoryJournal) Close() error { return nil }

// sorted returns copies ordered by creation time, then id
func (j *MemoryJournal) sorted() []*sequencer.Record {
	j.mu.RLock()
	out := make([]*sequencer.Record, 0, len(j.records))
	for _, rec := range j.records {
		cp := *rec
		out = append(out, &cp)
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].CorrelationID < out[b].CorrelationID
	})
	return out
}

var _ sequencer.Journal = (*MemoryJournal)(nil)
