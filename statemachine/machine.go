// Package statemachine owns the finite-state model of a loan ticket. All
// status changes, their inventory effects and their audit entries go through
// Transition, which applies them as one database transaction.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"liblend/domain"
	"liblend/log"
	"liblend/repository"
)

type ledgerEffect int

const (
	effectNone ledgerEffect = iota
	effectReserve
	effectRelease
)

type rule struct {
	from   domain.Status
	to     domain.Status
	event  string
	effect ledgerEffect
	// marks the loan start / end timestamp on the ticket
	setLoanedAt   bool
	setReturnedAt bool
}

// transitions is the full table; an action applied to any other status fails
// with ErrInvalidTransition and leaves no trace.
var transitions = map[domain.Action]rule{
	domain.ActionAcceptBorrow: {
		from:        domain.StatusPendingBorrow,
		to:          domain.StatusActive,
		event:       domain.EventAcceptedBorrow,
		effect:      effectReserve,
		setLoanedAt: true,
	},
	domain.ActionDeclineBorrow: {
		from:  domain.StatusPendingBorrow,
		to:    domain.StatusDeclined,
		event: domain.EventDeclinedBorrow,
	},
	domain.ActionCancelBorrow: {
		from:  domain.StatusPendingBorrow,
		to:    domain.StatusCancelled,
		event: domain.EventCancelledBorrow,
	},
	domain.ActionRequestReturn: {
		from:  domain.StatusActive,
		to:    domain.StatusPendingReturn,
		event: domain.EventReturnRequest,
	},
	domain.ActionAcceptReturn: {
		from:          domain.StatusPendingReturn,
		to:            domain.StatusReturned,
		event:         domain.EventAcceptedReturn,
		effect:        effectRelease,
		setReturnedAt: true,
	},
	domain.ActionDeclineReturn: {
		from:  domain.StatusPendingReturn,
		to:    domain.StatusActive,
		event: domain.EventDeclinedReturn,
	},
	domain.ActionCancelReturn: {
		from:  domain.StatusPendingReturn,
		to:    domain.StatusActive,
		event: domain.EventCancelledReturn,
	},
}

type Machine struct {
	database *gorm.DB
}

func NewMachine(db *gorm.DB) *Machine {
	return &Machine{database: db}
}

// Create opens a ticket in PendingBorrow and writes its "Borrow Request"
// entry inside the caller's transaction. Checkout is the only caller; it owns
// batch validation.
func (m *Machine) Create(ctx context.Context, tx *gorm.DB, bookId uint, borrowerId string) (repository.Ticket, error) {
	tickets := repository.NewTicketRepo(tx)
	logs := repository.NewEventLogRepo(tx)

	ticket := repository.Ticket{
		BookID:     bookId,
		BorrowerID: borrowerId,
		Status:     domain.StatusPendingBorrow,
	}
	if err := tickets.Create(ctx, &ticket); err != nil {
		return repository.Ticket{}, err
	}
	if _, err := logs.Append(ctx, ticket.ID, domain.EventBorrowRequest, borrowerId); err != nil {
		return repository.Ticket{}, err
	}
	return ticket, nil
}

// Transition validates the action against the table and applies the ledger
// effect, the status change and the log append as one unit. If any part
// fails nothing is committed and the ticket keeps its prior state. A lost
// race surfaces as ErrConcurrencyConflict and is retried once; every other
// failure is terminal for the call.
func (m *Machine) Transition(
	ctx context.Context,
	ticketId uint,
	action domain.Action,
	actorId string,
) (repository.Ticket, error) {
	ticket, err := m.transitionOnce(ctx, ticketId, action, actorId)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		log.GetLogger(ctx).WithError(err).
			Infof("retrying transition %s on ticket %d after conflict", action, ticketId)
		ticket, err = m.transitionOnce(ctx, ticketId, action, actorId)
	}
	return ticket, err
}

func (m *Machine) transitionOnce(
	ctx context.Context,
	ticketId uint,
	action domain.Action,
	actorId string,
) (repository.Ticket, error) {
	r, ok := transitions[action]
	if !ok {
		return repository.Ticket{}, fmt.Errorf("unknown action %q: %w", action, domain.ErrInvalidTransition)
	}

	var out repository.Ticket
	err := m.database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tickets := repository.NewTicketRepo(tx)
		books := repository.NewBookRepo(tx)
		logs := repository.NewEventLogRepo(tx)

		ticket, err := tickets.GetByIdForUpdate(ctx, ticketId)
		if err != nil {
			return err
		}
		if ticket.Status != r.from {
			return fmt.Errorf("action %s on %s ticket %d: %w",
				action, ticket.Status, ticketId, domain.ErrInvalidTransition)
		}

		switch r.effect {
		case effectReserve:
			if err = books.Reserve(ctx, ticket.BookID); err != nil {
				return err
			}
		case effectRelease:
			if err = books.Release(ctx, ticket.BookID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		var loanedAt, returnedAt *time.Time
		if r.setLoanedAt {
			loanedAt = &now
		}
		if r.setReturnedAt {
			returnedAt = &now
		}
		if err = tickets.UpdateStatus(ctx, ticket.ID, r.from, r.to, loanedAt, returnedAt); err != nil {
			return err
		}
		if _, err = logs.Append(ctx, ticket.ID, r.event, actorId); err != nil {
			return err
		}

		out, err = tickets.GetById(ctx, ticket.ID)
		return err
	})
	if err != nil {
		return repository.Ticket{}, err
	}
	return out, nil
}
