// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"keyword_tracker/internal/inbox"
	"keyword_tracker/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	LoadSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s *model.Settings) error

	inbox.Store

	Close() error
}
