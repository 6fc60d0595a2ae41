package storage

import "fmt"

// Submission journal key schema:
//
//	sub:<correlation_id>                  → Record (JSON)
//	unres:<correlation_id>                → empty; present while the last state is transport_failed
//	time:<created_at_unix_nanos>:<id>     → correlation id, for recent-first listing

const (
	prefixSubmission = "sub:"
	prefixUnresolved = "unres:"
	prefixTime       = "time:"
)

// submissionKey returns the key for a record
// Format: "sub:{id}"
func submissionKey(id string) []byte {
	return []byte(prefixSubmission + id)
}

// unresolvedKey returns the index key for an unresolved record
// Format: "unres:{id}"
func unresolvedKey(id string) []byte {
	return []byte(prefixUnresolved + id)
}

// timeKey returns the creation-time index key.
// Nanos are zero-padded (20 digits) for lexicographic sorting.
func timeKey(createdAtNanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTime, createdAtNanos, id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
