package db

import "github.com/lib/pq"

const (
	DuplicateEntry pq.ErrorCode = "23505"
	EntryTooLong   pq.ErrorCode = "22001"
)

// IsDuplicateEntry reports whether err is a postgres unique-constraint
// violation, which is how the transaction-hash uniqueness index rejects a
// hash that is already bound to another reservation.
func IsDuplicateEntry(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == DuplicateEntry
	}
	return false
}
