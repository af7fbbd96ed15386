package ledger

import "errors"

var (
	// ErrAlreadyLinked is returned when a transaction or target already has
	// an active link to something else.
	ErrAlreadyLinked = errors.New("record already linked")

	// ErrSplitSumMismatch is returned when split allocations do not add up to
	// the transaction amount.
	ErrSplitSumMismatch = errors.New("split allocations do not sum to transaction amount")

	// ErrTargetNotFound is returned when a link target does not exist.
	ErrTargetNotFound = errors.New("link target not found")

	// ErrStaleVersion is returned when a record changed after it was read.
	// Callers re-fetch and retry.
	ErrStaleVersion = errors.New("stale record version")

	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRecord     = errors.New("invalid record")

	// ErrDuplicateRow is returned for a row whose content hash repeats an
	// earlier row of the same import batch.
	ErrDuplicateRow = errors.New("row repeated within batch")
)
