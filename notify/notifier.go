// Package notify announces committed ticket transitions on a redis pub/sub
// channel so auxiliary consumers (dashboards, mailers) can react. Publishing
// is best-effort; a failure here never fails the engine operation that
// triggered it.
package notify

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"liblend/domain"
	"liblend/log"
	"liblend/repository"
)

const TicketChannel = "ticket.events"

type Event struct {
	ID         string        `json:"id"`
	TicketID   uint          `json:"ticket_id"`
	BookID     uint          `json:"book_id"`
	BorrowerID string        `json:"borrower_id"`
	Status     domain.Status `json:"status"`
	Action     domain.Action `json:"action"`
	ActorID    string        `json:"actor_id"`
	Time       time.Time     `json:"time"`
}

type Notifier struct {
	client *redis.Client
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

// TicketChanged publishes one event for a committed transition. Nil
// notifiers are valid and do nothing, so callers never need to branch.
func (n *Notifier) TicketChanged(ctx context.Context, ticket repository.Ticket, action domain.Action, actorId string) {
	if n == nil {
		return
	}
	logger := log.GetLogger(ctx)
	payload, err := sonic.Marshal(Event{
		ID:         uuid.New().String(),
		TicketID:   ticket.ID,
		BookID:     ticket.BookID,
		BorrowerID: ticket.BorrowerID,
		Status:     ticket.Status,
		Action:     action,
		ActorID:    actorId,
		Time:       time.Now().UTC(),
	})
	if err != nil {
		logger.WithError(err).Errorf("marshal ticket event for ticket %d", ticket.ID)
		return
	}
	if err = n.client.Publish(ctx, TicketChannel, payload).Err(); err != nil {
		logger.WithError(err).Errorf("publish ticket event for ticket %d", ticket.ID)
	}
}
