package models

import "errors"

// Sentinel errors shared by the ledger, repositories and transports. Handlers
// map them to HTTP status codes, the consumer maps them to ack/nack decisions.
var (
	// ErrNotFound indicates the account or balance does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a malformed request (non-positive amount,
	// same-account transfer, unknown operation kind). Detected before any
	// persistence access.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState indicates the account is not active and refuses mutations.
	ErrInvalidState = errors.New("account is not active")

	// ErrInsufficientFunds indicates a decrease, reservation or transfer source
	// exceeds the available actual balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidReleaseAmount indicates a release or reservation cancel exceeds
	// the currently held authorized amount.
	ErrInvalidReleaseAmount = errors.New("release amount exceeds authorized balance")

	// ErrConcurrentModification indicates an optimistic version check failed.
	// The ledger retries internally before surfacing it.
	ErrConcurrentModification = errors.New("balance was modified concurrently")

	// ErrDuplicateRecord indicates an audit record with the same number or
	// operation id already exists. The ledger treats it as an idempotent replay.
	ErrDuplicateRecord = errors.New("audit record already exists")
)
