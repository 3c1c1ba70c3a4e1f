package domain

// Status is the canonical lifecycle state of a loan ticket.
type Status string

const (
	StatusPendingBorrow Status = "pendingBorrow"
	StatusActive        Status = "active"
	StatusPendingReturn Status = "pendingReturn"
	StatusReturned      Status = "returned"
	StatusDeclined      Status = "declined"
	StatusCancelled     Status = "cancelled"
)

// Sort-order ranks used for open/closed filtering. Terminal states share one
// rank; "open" is everything below SortOrderClosed.
const (
	SortOrderPendingBorrow = 1
	SortOrderActive        = 2
	SortOrderPendingReturn = 3
	SortOrderClosed        = 4
)

// SortOrder maps a status to its numeric rank. Unknown statuses rank as
// closed so they never show up in open-ticket queries.
func (s Status) SortOrder() int {
	switch s {
	case StatusPendingBorrow:
		return SortOrderPendingBorrow
	case StatusActive:
		return SortOrderActive
	case StatusPendingReturn:
		return SortOrderPendingReturn
	default:
		return SortOrderClosed
	}
}

// IsOpen reports whether the ticket is still somewhere in the lifecycle,
// as opposed to one of the terminal states.
func (s Status) IsOpen() bool {
	return s.SortOrder() < SortOrderClosed
}

// HoldsCopy reports whether a ticket in this status accounts for one
// unavailable copy of its book.
func (s Status) HoldsCopy() bool {
	return s == StatusActive || s == StatusPendingReturn
}

// Action identifies one transition of the ticket state machine.
type Action string

const (
	ActionAcceptBorrow  Action = "acceptBorrow"
	ActionDeclineBorrow Action = "declineBorrow"
	ActionCancelBorrow  Action = "cancelBorrowRequest"
	ActionRequestReturn Action = "requestReturn"
	ActionAcceptReturn  Action = "acceptReturn"
	ActionDeclineReturn Action = "declineReturn"
	ActionCancelReturn  Action = "cancelReturnRequest"
)

// Event-log labels, one per transition plus the creation entry.
const (
	EventBorrowRequest   = "Borrow Request"
	EventAcceptedBorrow  = "Accepted borrow request"
	EventDeclinedBorrow  = "Declined borrow request"
	EventCancelledBorrow = "Cancelled borrow request"
	EventReturnRequest   = "Return Request"
	EventAcceptedReturn  = "Accepted return request"
	EventDeclinedReturn  = "Declined return request"
	EventCancelledReturn = "Cancelled return request"
)

// CheckoutRequest is the validated book-id batch handed over by the cart UI.
type CheckoutRequest struct {
	BookIDs []uint `json:"book_ids" binding:"required,min=1"`
}

// CartAddRequest adds a single book to the caller's cart.
type CartAddRequest struct {
	BookID uint `json:"book_id" binding:"required"`
}

// CreateBookRequest is the staff-facing shape for adding a title.
type CreateBookRequest struct {
	Title    string `json:"title" binding:"required"`
	Author   string `json:"author"`
	Quantity int    `json:"quantity" binding:"min=0"`
}

// AdjustQuantityRequest changes the total number of owned copies.
type AdjustQuantityRequest struct {
	Quantity int `json:"quantity" binding:"min=0"`
}
