// Package checkout turns a validated batch of book ids into PendingBorrow
// tickets. The whole batch commits or nothing does; partial success is not
// permitted.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"liblend/cart"
	"liblend/domain"
	"liblend/log"
	"liblend/repository"
	"liblend/statemachine"
)

type Coordinator struct {
	database *gorm.DB
	machine  *statemachine.Machine
	carts    cart.Store
}

// NewCoordinator wires the coordinator; carts may be nil when no cart
// backend is configured.
func NewCoordinator(db *gorm.DB, machine *statemachine.Machine, carts cart.Store) *Coordinator {
	return &Coordinator{
		database: db,
		machine:  machine,
		carts:    carts,
	}
}

// Checkout validates the batch as a whole, then creates one PendingBorrow
// ticket per book in a single transaction. The availability check here is
// advisory: copies are only reserved when staff accept the borrow request.
// After commit the checked-out ids are removed from the borrower's cart;
// that step is best-effort and never fails the checkout.
func (c *Coordinator) Checkout(ctx context.Context, borrowerId string, bookIds []uint) ([]repository.Ticket, error) {
	ids := lo.Uniq(bookIds)
	if len(ids) == 0 {
		return nil, errors.New("no books to check out")
	}

	var created []repository.Ticket
	err := c.database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		books := repository.NewBookRepo(tx)
		tickets := repository.NewTicketRepo(tx)

		locked, err := books.GetByIdsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		byId := lo.KeyBy(locked, func(b repository.Book) uint { return b.ID })

		var verr *multierror.Error
		for _, id := range ids {
			book, ok := byId[id]
			switch {
			case !ok || book.Deleted:
				verr = multierror.Append(verr, fmt.Errorf("book %d: %w", id, domain.ErrNotFound))
			case book.Available < 1:
				verr = multierror.Append(verr,
					fmt.Errorf("book %q is not available: %w", book.Title, domain.ErrInsufficientInventory))
			}
		}

		open, err := tickets.FindOpen(ctx, borrowerId, ids)
		if err != nil {
			return err
		}
		for _, t := range open {
			title := fmt.Sprintf("book %d", t.BookID)
			if book, ok := byId[t.BookID]; ok {
				title = fmt.Sprintf("book %q", book.Title)
			}
			verr = multierror.Append(verr,
				fmt.Errorf("open ticket %d for %s: %w", t.ID, title, domain.ErrDuplicateOpenTicket))
		}
		if err = verr.ErrorOrNil(); err != nil {
			return err
		}

		for _, id := range ids {
			ticket, createErr := c.machine.Create(ctx, tx, id, borrowerId)
			if createErr != nil {
				return createErr
			}
			created = append(created, ticket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.carts != nil {
		if cartErr := c.carts.RemoveBatch(ctx, borrowerId, ids); cartErr != nil {
			log.GetLogger(ctx).WithError(cartErr).
				Errorf("clearing cart for borrower %s after checkout", borrowerId)
		}
	}
	return created, nil
}
