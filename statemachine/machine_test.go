package statemachine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"liblend/domain"
	"liblend/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "liblend.db") +
		"?_pragma=busy_timeout(10000)&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return db
}

type fixture struct {
	db      *gorm.DB
	machine *Machine
	books   repository.BookRepository
	tickets repository.TicketRepository
	logs    repository.EventLogRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	return &fixture{
		db:      db,
		machine: NewMachine(db),
		books:   repository.NewBookRepo(db),
		tickets: repository.NewTicketRepo(db),
		logs:    repository.NewEventLogRepo(db),
	}
}

func (f *fixture) seedBook(t *testing.T, quantity int) repository.Book {
	t.Helper()
	book := repository.Book{Title: "Refactoring", Author: "Fowler", Quantity: quantity}
	require.NoError(t, f.books.Create(context.Background(), &book))
	return book
}

func (f *fixture) openTicket(t *testing.T, bookId uint, borrowerId string) repository.Ticket {
	t.Helper()
	ticket, err := f.machine.Create(context.Background(), f.db, bookId, borrowerId)
	require.NoError(t, err)
	return ticket
}

// checkInventoryInvariant asserts 0 <= available <= quantity and that the
// loaned-out gap matches the tickets holding a copy.
func (f *fixture) checkInventoryInvariant(t *testing.T, bookId uint) {
	t.Helper()
	ctx := context.Background()
	book, err := f.books.GetById(ctx, bookId)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, book.Available, 0)
	assert.LessOrEqual(t, book.Available, book.Quantity)

	holding, err := f.tickets.CountHoldingCopies(ctx, bookId)
	require.NoError(t, err)
	assert.EqualValues(t, book.Quantity-book.Available, holding)
}

func TestCreateOpensPendingBorrowWithLogEntry(t *testing.T) {
	f := newFixture(t)
	book := f.seedBook(t, 2)

	ticket := f.openTicket(t, book.ID, "u1")
	assert.Equal(t, domain.StatusPendingBorrow, ticket.Status)

	entries, err := f.logs.List(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventBorrowRequest, entries[0].Status)
	assert.Equal(t, "u1", entries[0].ActorID)

	f.checkInventoryInvariant(t, book.ID)
}

func TestBorrowLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 2)
	ticket := f.openTicket(t, book.ID, "u1")

	// admin accepts the borrow: copy reserved, loan start stamped
	got, err := f.machine.Transition(ctx, ticket.ID, domain.ActionAcceptBorrow, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	require.NotNil(t, got.LoanedAt)
	assert.Nil(t, got.ReturnedAt)

	bookNow, err := f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bookNow.Available)
	f.checkInventoryInvariant(t, book.ID)

	// borrower asks to give it back
	got, err = f.machine.Transition(ctx, ticket.ID, domain.ActionRequestReturn, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingReturn, got.Status)
	f.checkInventoryInvariant(t, book.ID)

	// admin declines the return: back to active, counter untouched
	got, err = f.machine.Transition(ctx, ticket.ID, domain.ActionDeclineReturn, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	bookNow, err = f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bookNow.Available)

	// second attempt goes through
	_, err = f.machine.Transition(ctx, ticket.ID, domain.ActionRequestReturn, "u1")
	require.NoError(t, err)
	got, err = f.machine.Transition(ctx, ticket.ID, domain.ActionAcceptReturn, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, got.Status)
	require.NotNil(t, got.ReturnedAt)

	bookNow, err = f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, bookNow.Available)
	f.checkInventoryInvariant(t, book.ID)

	entries, err := f.logs.List(ctx, ticket.ID)
	require.NoError(t, err)
	labels := make([]string, 0, len(entries))
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Seq)
		labels = append(labels, entry.Status)
	}
	assert.Equal(t, []string{
		domain.EventBorrowRequest,
		domain.EventAcceptedBorrow,
		domain.EventReturnRequest,
		domain.EventDeclinedReturn,
		domain.EventReturnRequest,
		domain.EventAcceptedReturn,
	}, labels)
}

func TestDeclineBorrowIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 1)
	ticket := f.openTicket(t, book.ID, "u1")

	got, err := f.machine.Transition(ctx, ticket.ID, domain.ActionDeclineBorrow, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, got.Status)
	assert.False(t, got.Status.IsOpen())

	bookNow, err := f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bookNow.Available, "declining must not touch inventory")
}

func TestCancelPendingBorrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 1)
	ticket := f.openTicket(t, book.ID, "u1")

	got, err := f.machine.Transition(ctx, ticket.ID, domain.ActionCancelBorrow, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	bookNow, err := f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bookNow.Available)

	entries, err := f.logs.List(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EventBorrowRequest, entries[0].Status)
	assert.Equal(t, domain.EventCancelledBorrow, entries[1].Status)
}

func TestCancelPendingReturnReactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 1)
	ticket := f.openTicket(t, book.ID, "u1")

	_, err := f.machine.Transition(ctx, ticket.ID, domain.ActionAcceptBorrow, "admin")
	require.NoError(t, err)
	_, err = f.machine.Transition(ctx, ticket.ID, domain.ActionRequestReturn, "u1")
	require.NoError(t, err)

	got, err := f.machine.Transition(ctx, ticket.ID, domain.ActionCancelReturn, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	bookNow, err := f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, bookNow.Available, "the copy stays out while the loan is active")
	f.checkInventoryInvariant(t, book.ID)
}

func TestInvalidTransitionsLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 2)
	ticket := f.openTicket(t, book.ID, "u1")

	// every action that does not apply to PendingBorrow
	for _, action := range []domain.Action{
		domain.ActionRequestReturn,
		domain.ActionAcceptReturn,
		domain.ActionDeclineReturn,
		domain.ActionCancelReturn,
	} {
		_, err := f.machine.Transition(ctx, ticket.ID, action, "someone")
		require.ErrorIs(t, err, domain.ErrInvalidTransition, "action %s", action)
	}

	got, err := f.tickets.GetById(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingBorrow, got.Status)

	entries, err := f.logs.List(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed transitions must not append log entries")

	bookNow, err := f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, bookNow.Available, "failed transitions must not touch inventory")
}

func TestTerminalTicketAcceptsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 1)
	ticket := f.openTicket(t, book.ID, "u1")

	_, err := f.machine.Transition(ctx, ticket.ID, domain.ActionDeclineBorrow, "admin")
	require.NoError(t, err)

	for _, action := range []domain.Action{
		domain.ActionAcceptBorrow,
		domain.ActionDeclineBorrow,
		domain.ActionCancelBorrow,
		domain.ActionRequestReturn,
		domain.ActionAcceptReturn,
		domain.ActionDeclineReturn,
		domain.ActionCancelReturn,
	} {
		_, err = f.machine.Transition(ctx, ticket.ID, action, "someone")
		require.ErrorIs(t, err, domain.ErrInvalidTransition, "action %s", action)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	f := newFixture(t)
	book := f.seedBook(t, 1)
	ticket := f.openTicket(t, book.ID, "u1")

	_, err := f.machine.Transition(context.Background(), ticket.ID, domain.Action("eatBook"), "u1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAcceptBorrowWithoutCopiesFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 1)

	// the only copy goes to another borrower first
	other := f.openTicket(t, book.ID, "u2")
	_, err := f.machine.Transition(ctx, other.ID, domain.ActionAcceptBorrow, "admin")
	require.NoError(t, err)

	ticket := f.openTicket(t, book.ID, "u1")
	_, err = f.machine.Transition(ctx, ticket.ID, domain.ActionAcceptBorrow, "admin")
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)

	got, err := f.tickets.GetById(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingBorrow, got.Status, "ticket keeps its prior state")

	entries, err := f.logs.List(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	f.checkInventoryInvariant(t, book.ID)
}

func TestConcurrentAcceptsOfLastCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 1)

	first := f.openTicket(t, book.ID, "u1")
	second := f.openTicket(t, book.ID, "u2")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []uint{first.ID, second.ID} {
		wg.Add(1)
		go func(ticketId uint) {
			defer wg.Done()
			_, err := f.machine.Transition(ctx, ticketId, domain.ActionAcceptBorrow, "admin")
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, domain.ErrInsufficientInventory)
			insufficient++
		}
	}
	assert.Equal(t, 1, ok, "exactly one accept wins the last copy")
	assert.Equal(t, 1, insufficient)

	bookNow, err := f.books.GetById(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, bookNow.Available)
	f.checkInventoryInvariant(t, book.ID)
}
