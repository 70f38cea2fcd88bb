package lending

import "errors"

// Error kinds returned by the engine. Callers dispatch with errors.Is;
// the concrete messages wrap these sentinels with ids and counts.
var (
	// ErrValidation marks malformed registration input: empty ids or
	// names, non-positive copy counts or borrow limits.
	ErrValidation = errors.New("invalid input")

	// ErrDuplicateID marks a registration whose id is already taken.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNotFound marks an operation referencing an unknown item,
	// borrower or loan id.
	ErrNotFound = errors.New("not found")

	// ErrNoCopiesAvailable marks a borrow against a fully checked-out item.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrLimitReached marks a borrow by a borrower already at their limit.
	ErrLimitReached = errors.New("borrow limit reached")

	// ErrAlreadyHeld marks an attempt to record a hold for a loan that
	// already has one.
	ErrAlreadyHeld = errors.New("hold already recorded")

	// ErrNotHeld marks an attempt to release a hold that does not exist.
	ErrNotHeld = errors.New("no hold recorded")

	// ErrOverReturn marks an attempt to put a copy back when all copies
	// are already in stock.
	ErrOverReturn = errors.New("all copies already in stock")

	// ErrAlreadyReturned marks a return of a loan that is not active.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrInvariant marks an internal consistency failure that should be
	// unreachable through the public operations. It signals a defect, not
	// bad input, and the current operation is aborted without applying
	// any of its changes.
	ErrInvariant = errors.New("invariant violation")
)
