// Package admin exposes the named staff and borrower operations of the
// ticket lifecycle. Handlers stay thin: every status rule lives in the state
// machine's transition table, never here.
package admin

import (
	"context"
	"fmt"

	"liblend/domain"
	"liblend/log"
	"liblend/notify"
	"liblend/repository"
	"liblend/statemachine"
)

type Handler struct {
	machine  *statemachine.Machine
	tickets  repository.TicketRepository
	books    repository.BookRepository
	notifier *notify.Notifier
}

func NewHandler(
	machine *statemachine.Machine,
	tickets repository.TicketRepository,
	books repository.BookRepository,
	notifier *notify.Notifier,
) *Handler {
	return &Handler{
		machine:  machine,
		tickets:  tickets,
		books:    books,
		notifier: notifier,
	}
}

func (h *Handler) transition(ctx context.Context, ticketId uint, action domain.Action, actorId string) (repository.Ticket, error) {
	ticket, err := h.machine.Transition(ctx, ticketId, action, actorId)
	if err != nil {
		return repository.Ticket{}, err
	}
	h.notifier.TicketChanged(ctx, ticket, action, actorId)
	return ticket, nil
}

// AcceptBorrow reserves a copy and activates the ticket.
func (h *Handler) AcceptBorrow(ctx context.Context, ticketId uint, actorId string) (repository.Ticket, error) {
	return h.transition(ctx, ticketId, domain.ActionAcceptBorrow, actorId)
}

func (h *Handler) DeclineBorrow(ctx context.Context, ticketId uint, actorId string) (repository.Ticket, error) {
	return h.transition(ctx, ticketId, domain.ActionDeclineBorrow, actorId)
}

// RequestReturn is a borrower action; the actor must own the ticket.
func (h *Handler) RequestReturn(ctx context.Context, ticketId uint, actorId string) (repository.Ticket, error) {
	if err := h.requireOwner(ctx, ticketId, actorId); err != nil {
		return repository.Ticket{}, err
	}
	return h.transition(ctx, ticketId, domain.ActionRequestReturn, actorId)
}

// AcceptReturn releases the copy back to the shelf and closes the ticket.
func (h *Handler) AcceptReturn(ctx context.Context, ticketId uint, actorId string) (repository.Ticket, error) {
	return h.transition(ctx, ticketId, domain.ActionAcceptReturn, actorId)
}

func (h *Handler) DeclineReturn(ctx context.Context, ticketId uint, actorId string) (repository.Ticket, error) {
	return h.transition(ctx, ticketId, domain.ActionDeclineReturn, actorId)
}

// CancelTicket dispatches on the current status: a pending borrow is
// cancelled outright, a pending return drops back to active. The state
// machine re-validates inside its transaction, so a stale read here only
// turns into an InvalidTransition, never a wrong transition.
func (h *Handler) CancelTicket(ctx context.Context, ticketId uint, actorId string) (repository.Ticket, error) {
	ticket, err := h.tickets.GetById(ctx, ticketId)
	if err != nil {
		return repository.Ticket{}, err
	}
	if ticket.BorrowerID != actorId {
		return repository.Ticket{}, fmt.Errorf("ticket %d does not belong to %s: %w",
			ticketId, actorId, domain.ErrNotFound)
	}

	switch ticket.Status {
	case domain.StatusPendingBorrow:
		return h.transition(ctx, ticketId, domain.ActionCancelBorrow, actorId)
	case domain.StatusPendingReturn:
		return h.transition(ctx, ticketId, domain.ActionCancelReturn, actorId)
	default:
		return repository.Ticket{}, fmt.Errorf("cancel %s ticket %d: %w",
			ticket.Status, ticketId, domain.ErrInvalidTransition)
	}
}

// AdjustBookQuantity changes the owned-copy total, shifting availability by
// the same delta. The repository rejects reductions below copies on loan.
func (h *Handler) AdjustBookQuantity(ctx context.Context, bookId uint, newQuantity int, actorId string) (repository.Book, error) {
	book, err := h.books.AdjustQuantity(ctx, bookId, newQuantity)
	if err != nil {
		return repository.Book{}, err
	}
	log.GetLogger(ctx).Infof("book %d quantity set to %d by %s", bookId, newQuantity, actorId)
	return book, nil
}

func (h *Handler) requireOwner(ctx context.Context, ticketId uint, actorId string) error {
	ticket, err := h.tickets.GetById(ctx, ticketId)
	if err != nil {
		return err
	}
	if ticket.BorrowerID != actorId {
		return fmt.Errorf("ticket %d does not belong to %s: %w", ticketId, actorId, domain.ErrNotFound)
	}
	return nil
}
