package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"liblend/domain"
)

type ticketRepository struct {
	database *gorm.DB
}

func (t *ticketRepository) Create(ctx context.Context, ticket *Ticket) error {
	ticket.SortOrder = ticket.Status.SortOrder()
	return t.database.WithContext(ctx).Create(ticket).Error
}

func (t *ticketRepository) GetById(ctx context.Context, ticketId uint) (Ticket, error) {
	var ticket Ticket
	err := t.database.WithContext(ctx).First(&ticket, ticketId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Ticket{}, fmt.Errorf("ticket %d: %w", ticketId, domain.ErrNotFound)
	}
	return ticket, err
}

// GetByIdForUpdate loads the ticket with its row locked, making the ticket
// the unit of mutual exclusion for the surrounding transaction.
func (t *ticketRepository) GetByIdForUpdate(ctx context.Context, ticketId uint) (Ticket, error) {
	var ticket Ticket
	err := t.database.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&ticket, ticketId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Ticket{}, fmt.Errorf("ticket %d: %w", ticketId, domain.ErrNotFound)
	}
	return ticket, err
}

// UpdateStatus moves the ticket from one status to another as a
// compare-and-swap: the UPDATE only matches while the row still carries the
// expected prior status. Zero rows affected means another transition won the
// race.
func (t *ticketRepository) UpdateStatus(
	ctx context.Context,
	ticketId uint,
	from domain.Status,
	to domain.Status,
	loanedAt *time.Time,
	returnedAt *time.Time,
) error {
	updates := map[string]interface{}{
		"status":     to,
		"sort_order": to.SortOrder(),
	}
	if loanedAt != nil {
		updates["loaned_at"] = *loanedAt
	}
	if returnedAt != nil {
		updates["returned_at"] = *returnedAt
	}
	res := t.database.WithContext(ctx).Model(&Ticket{}).
		Where("id = ? AND status = ?", ticketId, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ticket %d %s -> %s: %w", ticketId, from, to, domain.ErrConcurrencyConflict)
	}
	return nil
}

// FindOpen returns the borrower's non-terminal tickets for any of the given
// books.
func (t *ticketRepository) FindOpen(ctx context.Context, borrowerId string, bookIds []uint) ([]Ticket, error) {
	var tickets []Ticket
	err := t.database.WithContext(ctx).
		Where("borrower_id = ? AND book_id IN ? AND sort_order < ?", borrowerId, bookIds, domain.SortOrderClosed).
		Find(&tickets).Error
	return tickets, err
}

func (t *ticketRepository) ListByBorrower(ctx context.Context, borrowerId string) ([]Ticket, error) {
	var tickets []Ticket
	err := t.database.WithContext(ctx).
		Where("borrower_id = ?", borrowerId).
		Order("updated_at DESC").
		Find(&tickets).Error
	return tickets, err
}

// ListOpen / ListClosed / ListAll back the staff ticket views.
func (t *ticketRepository) ListOpen(ctx context.Context) ([]Ticket, error) {
	var tickets []Ticket
	err := t.database.WithContext(ctx).
		Where("sort_order < ?", domain.SortOrderClosed).
		Order("sort_order ASC, updated_at DESC").
		Find(&tickets).Error
	return tickets, err
}

func (t *ticketRepository) ListClosed(ctx context.Context) ([]Ticket, error) {
	var tickets []Ticket
	err := t.database.WithContext(ctx).
		Where("sort_order >= ?", domain.SortOrderClosed).
		Order("updated_at DESC").
		Find(&tickets).Error
	return tickets, err
}

func (t *ticketRepository) ListAll(ctx context.Context) ([]Ticket, error) {
	var tickets []Ticket
	err := t.database.WithContext(ctx).
		Order("sort_order ASC, updated_at DESC").
		Find(&tickets).Error
	return tickets, err
}

// CountHoldingCopies counts the book's tickets in a status that accounts for
// a loaned-out copy (Active or PendingReturn).
func (t *ticketRepository) CountHoldingCopies(ctx context.Context, bookId uint) (int64, error) {
	var n int64
	err := t.database.WithContext(ctx).Model(&Ticket{}).
		Where("book_id = ? AND status IN ?", bookId,
			[]domain.Status{domain.StatusActive, domain.StatusPendingReturn}).
		Count(&n).Error
	return n, err
}

type TicketRepository interface {
	Create(ctx context.Context, ticket *Ticket) error
	GetById(ctx context.Context, ticketId uint) (Ticket, error)
	GetByIdForUpdate(ctx context.Context, ticketId uint) (Ticket, error)
	UpdateStatus(ctx context.Context, ticketId uint, from, to domain.Status, loanedAt, returnedAt *time.Time) error
	FindOpen(ctx context.Context, borrowerId string, bookIds []uint) ([]Ticket, error)
	ListByBorrower(ctx context.Context, borrowerId string) ([]Ticket, error)
	ListOpen(ctx context.Context) ([]Ticket, error)
	ListClosed(ctx context.Context) ([]Ticket, error)
	ListAll(ctx context.Context) ([]Ticket, error)
	CountHoldingCopies(ctx context.Context, bookId uint) (int64, error)
}

func NewTicketRepo(db *gorm.DB) TicketRepository {
	return &ticketRepository{database: db}
}
