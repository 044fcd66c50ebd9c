// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/ngx-reader/internal/domain"
)

// Repository defines the interface for persisting reader devices and their sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetStaleUsers retrieves users inactive for longer than ttl.
	GetStaleUsers(ctx context.Context, ttl time.Duration) ([]*domain.User, error)

	// DeleteUser removes a user and its reader session.
	DeleteUser(ctx context.Context, userID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetReaderSession retrieves reader state for a user. Returns nil, nil when absent.
	GetReaderSession(ctx context.Context, userID string) (*domain.ReaderSession, error)

	// UpsertReaderSession creates or updates reader state.
	UpsertReaderSession(ctx context.Context, session *domain.ReaderSession) error
}
