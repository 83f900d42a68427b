// Package storage persists runtime records and provisioning artifacts.
package storage

import (
	"context"
	"time"

	"github.com/triggerkit/triggerkit/internal/domain"
)

// RecordStore persists runtime records keyed by config hash. Implementations
// must return domain.ErrRecordNotFound for absent hashes so callers can
// distinguish "never provisioned" from storage failures.
type RecordStore interface {
	// Create inserts a new record. The config hash must not already exist.
	Create(ctx context.Context, record *domain.RuntimeRecord) error

	// GetByHash fetches the record for one config hash.
	GetByHash(ctx context.Context, configHash string) (*domain.RuntimeRecord, error)

	// SetStatus moves a record to a new creation status, appending logs.
	// Transition rules are enforced here so every caller goes through them.
	SetStatus(ctx context.Context, configHash string, status domain.CreationStatus, logs []string) error

	// TouchInvoked stamps the record's last invocation time.
	TouchInvoked(ctx context.Context, configHash string) error

	// ListIdle returns completed records not invoked since the cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.RuntimeRecord, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, configHash string) error

	Close() error
}
