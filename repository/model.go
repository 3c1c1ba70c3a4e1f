package repository

import (
	"time"

	"liblend/domain"
)

// Book is one title in the catalogue. Quantity is the number of owned
// copies, Available the number not currently out on a ticket. The pair is
// only ever mutated through BookRepository so that 0 <= available <= quantity
// holds after every operation.
type Book struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Title     string    `json:"title" gorm:"type:varchar(255);not null"`
	Author    string    `json:"author" gorm:"type:varchar(255)"`
	Quantity  int       `json:"quantity" gorm:"not null;default:0"`
	Available int       `json:"available" gorm:"not null;default:0"`
	Deleted   bool      `json:"deleted" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ticket tracks one book's custody state for one borrower. Rows are never
// physically deleted; terminal tickets stay for audit. SortOrder is derived
// from Status and written in the same update, so open/closed queries can
// filter on it without decoding the status.
type Ticket struct {
	ID         uint          `json:"id" gorm:"primaryKey"`
	BookID     uint          `json:"book_id" gorm:"index;not null"`
	BorrowerID string        `json:"borrower_id" gorm:"type:varchar(255);index;not null"`
	Status     domain.Status `json:"status" gorm:"type:varchar(32);not null"`
	SortOrder  int           `json:"sort_order" gorm:"index;not null"`
	LoanedAt   *time.Time    `json:"from"`
	ReturnedAt *time.Time    `json:"to"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// EventLog is one immutable audit entry of a ticket. Seq is a per-ticket
// monotonic sequence number; together with the unique index it guarantees a
// total order independent of timestamp resolution.
type EventLog struct {
	ID       uint      `json:"-" gorm:"primaryKey"`
	TicketID uint      `json:"ticket_id" gorm:"uniqueIndex:idx_ticket_seq;not null"`
	Seq      int       `json:"seq" gorm:"uniqueIndex:idx_ticket_seq;not null"`
	Status   string    `json:"status" gorm:"type:varchar(64);not null"`
	ActorID  string    `json:"actor_id" gorm:"type:varchar(255);not null"`
	Time     time.Time `json:"time" gorm:"not null"`
}
