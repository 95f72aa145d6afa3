package store

import (
	"context"
	"errors"
	"time"

	"stagectl/lib/show"
)

var ErrNotFound = errors.New("not found")

type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists whole show documents.
type Repository interface {
	List(ctx context.Context) ([]Summary, error)
	Load(ctx context.Context, id string) (*show.Show, error)
	Save(ctx context.Context, s *show.Show) error
	Delete(ctx context.Context, id string) error
	Close() error
}
