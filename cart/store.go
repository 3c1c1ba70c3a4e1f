// Package cart keeps each borrower's pre-checkout book selection in redis.
// The cart is convenience state only; the engine re-validates everything at
// checkout time.
package cart

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/samber/lo"
)

var ErrAlreadyInCart = errors.New("book is already in cart")

type Store interface {
	List(ctx context.Context, borrowerId string) ([]uint, error)
	Add(ctx context.Context, borrowerId string, bookId uint) error
	Remove(ctx context.Context, borrowerId string, bookId uint) error
	RemoveBatch(ctx context.Context, borrowerId string, bookIds []uint) error
}

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func key(borrowerId string) string {
	return "cart:" + borrowerId
}

func member(bookId uint) string {
	return strconv.FormatUint(uint64(bookId), 10)
}

func (s *redisStore) List(ctx context.Context, borrowerId string) ([]uint, error) {
	members, err := s.client.SMembers(ctx, key(borrowerId)).Result()
	if err != nil {
		return nil, err
	}
	ids := lo.FilterMap(members, func(m string, _ int) (uint, bool) {
		id, convErr := strconv.ParseUint(m, 10, 64)
		return uint(id), convErr == nil
	})
	return ids, nil
}

func (s *redisStore) Add(ctx context.Context, borrowerId string, bookId uint) error {
	added, err := s.client.SAdd(ctx, key(borrowerId), member(bookId)).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return ErrAlreadyInCart
	}
	return nil
}

func (s *redisStore) Remove(ctx context.Context, borrowerId string, bookId uint) error {
	return s.client.SRem(ctx, key(borrowerId), member(bookId)).Err()
}

func (s *redisStore) RemoveBatch(ctx context.Context, borrowerId string, bookIds []uint) error {
	if len(bookIds) == 0 {
		return nil
	}
	members := lo.Map(bookIds, func(id uint, _ int) interface{} {
		return member(id)
	})
	return s.client.SRem(ctx, key(borrowerId), members...).Err()
}
