package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"liblend/domain"
)

type eventLogRepository struct {
	database *gorm.DB
}

// Append writes one immutable entry with a server-assigned timestamp and the
// next per-ticket sequence number. Callers append from within the state
// machine's transaction, where the ticket row is locked, so MAX(seq)+1 cannot
// race; the unique (ticket_id, seq) index backs that up.
func (e *eventLogRepository) Append(ctx context.Context, ticketId uint, status, actorId string) (EventLog, error) {
	var next int64
	err := e.database.WithContext(ctx).Model(&EventLog{}).
		Where("ticket_id = ?", ticketId).
		Select("COALESCE(MAX(seq), 0) + 1").
		Scan(&next).Error
	if err != nil {
		return EventLog{}, err
	}
	entry := EventLog{
		TicketID: ticketId,
		Seq:      int(next),
		Status:   status,
		ActorID:  actorId,
		Time:     time.Now().UTC(),
	}
	if err = e.database.WithContext(ctx).Create(&entry).Error; err != nil {
		return EventLog{}, err
	}
	return entry, nil
}

// Latest returns the most recent entry for display.
func (e *eventLogRepository) Latest(ctx context.Context, ticketId uint) (EventLog, error) {
	var entry EventLog
	err := e.database.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("seq DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EventLog{}, fmt.Errorf("event log for ticket %d: %w", ticketId, domain.ErrNotFound)
	}
	return entry, err
}

func (e *eventLogRepository) List(ctx context.Context, ticketId uint) ([]EventLog, error) {
	var entries []EventLog
	err := e.database.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("seq ASC").
		Find(&entries).Error
	return entries, err
}

type EventLogRepository interface {
	Append(ctx context.Context, ticketId uint, status, actorId string) (EventLog, error)
	Latest(ctx context.Context, ticketId uint) (EventLog, error)
	List(ctx context.Context, ticketId uint) ([]EventLog, error)
}

func NewEventLogRepo(db *gorm.DB) EventLogRepository {
	return &eventLogRepository{database: db}
}
