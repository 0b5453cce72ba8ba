package api

import "errors"

// Processing errors. None of these abort a batch: the pipeline accounts
// for the message and moves on.
var (
	// ErrNoProvider means no provider configuration matched the message.
	ErrNoProvider = errors.New("no provider matched")
	// ErrNoAmount means the mandatory amount field could not be extracted.
	ErrNoAmount = errors.New("no amount extracted")
	// ErrDuplicate means a transaction with the same fingerprint already
	// exists. Returned by the store on a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate transaction fingerprint")
)
