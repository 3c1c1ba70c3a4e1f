package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"liblend/domain"
)

type bookRepository struct {
	database *gorm.DB
}

func (b *bookRepository) Create(ctx context.Context, book *Book) error {
	if book.Available == 0 {
		book.Available = book.Quantity
	}
	if book.Available < 0 || book.Available > book.Quantity {
		return fmt.Errorf("create book %q: %w", book.Title, domain.ErrInvalidQuantity)
	}
	return b.database.WithContext(ctx).Create(book).Error
}

func (b *bookRepository) GetById(ctx context.Context, bookId uint) (Book, error) {
	var book Book
	err := b.database.WithContext(ctx).First(&book, bookId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, fmt.Errorf("book %d: %w", bookId, domain.ErrNotFound)
	}
	return book, err
}

func (b *bookRepository) GetByIds(ctx context.Context, bookIds []uint) ([]Book, error) {
	var books []Book
	err := b.database.WithContext(ctx).Where("id IN ?", bookIds).Find(&books).Error
	return books, err
}

// GetByIdsForUpdate loads the books with their rows locked for the duration
// of the surrounding transaction.
func (b *bookRepository) GetByIdsForUpdate(ctx context.Context, bookIds []uint) ([]Book, error) {
	var books []Book
	err := b.database.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", bookIds).
		Find(&books).Error
	return books, err
}

// Reserve takes one available copy. The check and the decrement are a single
// conditional UPDATE so two concurrent reservations can never both win the
// last copy.
func (b *bookRepository) Reserve(ctx context.Context, bookId uint) error {
	res := b.database.WithContext(ctx).Model(&Book{}).
		Where("id = ? AND deleted = ? AND available >= 1", bookId, false).
		UpdateColumn("available", gorm.Expr("available - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := b.GetById(ctx, bookId); err != nil {
			return err
		}
		return fmt.Errorf("reserve book %d: %w", bookId, domain.ErrInsufficientInventory)
	}
	return nil
}

// Release puts one copy back. A release that would push available past
// quantity means some transition double-counted; that is reported as
// corruption instead of being clamped.
func (b *bookRepository) Release(ctx context.Context, bookId uint) error {
	res := b.database.WithContext(ctx).Model(&Book{}).
		Where("id = ? AND available < quantity", bookId).
		UpdateColumn("available", gorm.Expr("available + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := b.GetById(ctx, bookId); err != nil {
			return err
		}
		return fmt.Errorf("release book %d: %w", bookId, domain.ErrInventoryCorruption)
	}
	return nil
}

// AdjustQuantity sets a new total and shifts available by the same delta in
// one guarded UPDATE. Reducing quantity below the number of copies currently
// out is rejected.
func (b *bookRepository) AdjustQuantity(ctx context.Context, bookId uint, newQuantity int) (Book, error) {
	if newQuantity < 0 {
		return Book{}, fmt.Errorf("adjust book %d: %w", bookId, domain.ErrInvalidQuantity)
	}
	res := b.database.WithContext(ctx).Model(&Book{}).
		Where("id = ? AND deleted = ? AND available + (? - quantity) >= 0", bookId, false, newQuantity).
		Updates(map[string]interface{}{
			// assignments are listed alphabetically by gorm, so available is
			// computed from the old quantity before quantity is overwritten
			"available": gorm.Expr("available + (? - quantity)", newQuantity),
			"quantity":  newQuantity,
		})
	if res.Error != nil {
		return Book{}, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := b.GetById(ctx, bookId); err != nil {
			return Book{}, err
		}
		return Book{}, fmt.Errorf("adjust book %d to %d: %w", bookId, newQuantity, domain.ErrInvalidQuantity)
	}
	return b.GetById(ctx, bookId)
}

// SoftDelete flags the book; existing tickets keep their reference.
func (b *bookRepository) SoftDelete(ctx context.Context, bookId uint) error {
	res := b.database.WithContext(ctx).Model(&Book{}).
		Where("id = ?", bookId).
		UpdateColumn("deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("book %d: %w", bookId, domain.ErrNotFound)
	}
	return nil
}

type BookRepository interface {
	Create(ctx context.Context, book *Book) error
	GetById(ctx context.Context, bookId uint) (Book, error)
	GetByIds(ctx context.Context, bookIds []uint) ([]Book, error)
	GetByIdsForUpdate(ctx context.Context, bookIds []uint) ([]Book, error)
	Reserve(ctx context.Context, bookId uint) error
	Release(ctx context.Context, bookId uint) error
	AdjustQuantity(ctx context.Context, bookId uint, newQuantity int) (Book, error)
	SoftDelete(ctx context.Context, bookId uint) error
}

func NewBookRepo(db *gorm.DB) BookRepository {
	return &bookRepository{database: db}
}
