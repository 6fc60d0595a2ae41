package storage

import "github.com/uhyunpark/perpgate/pkg/sequencer"

// Journal is a sequencer.Journal that can also list and be closed
type Journal interface {
	sequencer.Journal
	Recent(limit int) ([]*sequencer.Record, error)
	Close() error
}

// Open returns a pebble journal at path, or an in-memory one when path is empty
func Open(path string) (Journal, error) {
	if path == "" {
		return NewMemoryJournal(), nil
	}
	return NewPebbleJournal(path)
}
