package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"

	"github.com/uhyunpark/perpgate/pkg/sequencer"
)

// PebbleJournal persists submission records on disk
type PebbleJournal struct {
	db *pebble.DB
}

func NewPebbleJournal(path string) (*PebbleJournal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &PebbleJournal{db: db}, nil
}

func (j *PebbleJournal) Close() error { return j.db.Close() }

// Record writes the record and maintains the unresolved and time indexes atomically
func (j *PebbleJournal) Record(rec *sequencer.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	b := j.db.NewBatch()
	defer b.Close()

	if err := b.Set(submissionKey(rec.CorrelationID), data, nil); err != nil {
		return err
	}
	if err := b.Set(timeKey(rec.CreatedAt.UnixNano(), rec.CorrelationID), []byte(rec.CorrelationID), nil); err != nil {
		return err
	}
	if rec.State == sequencer.TransportFailed {
		err = b.Set(unresolvedKey(rec.CorrelationID), nil, nil)
	} else {
		err = b.Delete(unresolvedKey(rec.CorrelationID), nil)
	}
	if err != nil {
		return err
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Lookup loads a record by correlation id
func (j *PebbleJournal) Lookup(id string) (*sequencer.Record, error) {
	data, closer, err := j.db.Get(submissionKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", sequencer.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	defer closer.Close()

	var rec sequencer.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Unresolved returns records whose last known state is transport_failed
func (j *PebbleJournal) Unresolved() ([]*sequencer.Record, error) {
	prefix := []byte(prefixUnresolved)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*sequencer.Record
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(prefix):])
		rec, err := j.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// Recent returns up to limit records, newest first
func (j *PebbleJournal) Recent(limit int) ([]*sequencer.Record, error) {
	if limit <= 0 {
		return []*sequencer.Record{}, nil
	}
	prefix := []byte(prefixTime)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*sequencer.Record
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		rec, err := j.Lookup(string(iter.Value()))
		if err != nil {
			continue // Skip dangling index entries
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

var _ sequencer.Journal = (*PebbleJournal)(nil)
