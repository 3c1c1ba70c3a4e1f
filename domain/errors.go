package domain

import "errors"

var (
	// ErrNotFound means a referenced book, ticket or user id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the requested action does not apply to the
	// ticket's current status.
	ErrInvalidTransition = errors.New("invalid ticket transition")

	// ErrInsufficientInventory means a reservation was attempted while no
	// copy of the book is available.
	ErrInsufficientInventory = errors.New("no available copies")

	// ErrDuplicateOpenTicket means the borrower already holds an open ticket
	// for the requested book.
	ErrDuplicateOpenTicket = errors.New("open ticket already exists for book")

	// ErrInvalidQuantity means a quantity adjustment would push a book's
	// available count below zero.
	ErrInvalidQuantity = errors.New("quantity below copies currently on loan")

	// ErrInventoryCorruption means a release would push available above
	// quantity. It signals a bug elsewhere, never a user mistake.
	ErrInventoryCorruption = errors.New("available would exceed quantity")

	// ErrConcurrencyConflict means a transition lost a race for the same
	// ticket or counter and may be retried.
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")
)
