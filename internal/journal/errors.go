package journal

import "git.home.luguber.info/inful/eventworker/internal/foundation/errors"

var (
	// ErrAppendFailed indicates appending an entry failed.
	ErrAppendFailed = errors.JournalError("failed to append journal entry").Build()

	// ErrQueryFailed indicates querying entries failed.
	ErrQueryFailed = errors.JournalError("failed to query journal entries").Build()

	// ErrScanFailed indicates scanning journal rows failed.
	ErrScanFailed = errors.JournalError("failed to scan journal rows").Build()
)
