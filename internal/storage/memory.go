package storage

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/triggerkit/triggerkit/internal/domain"
)

// MemoryStore is the in-process RecordStore used by the local backend and by
// tests. It applies the same transition rules as the persistent store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.RuntimeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.RuntimeRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, record *domain.RuntimeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ConfigHash]; exists {
		return domain.NewDomainError("runtime record already exists")
	}

	if record.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		record.ID = id.String()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	stored := *record
	s.records[record.ConfigHash] = &stored
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, configHash string) (*domain.RuntimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[configHash]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, configHash string, status domain.CreationStatus, logs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[configHash]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if err := record.TransitionTo(status); err != nil {
		return err
	}
	record.CreationLogs = append(record.CreationLogs, logs...)
	return nil
}

func (s *MemoryStore) TouchInvoked(ctx context.Context, configHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[configHash]
	if !ok {
		return domain.ErrRecordNotFound
	}
	record.LastInvokedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.RuntimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var idle []*domain.RuntimeRecord
	for _, record := range s.records {
		if record.CreationStatus != domain.CreationCompleted {
			continue
		}
		last := record.LastInvokedAt
		if last.IsZero() {
			last = record.CreatedAt
		}
		if last.Before(cutoff) {
			copied := *record
			idle = append(idle, &copied)
		}
	}
	return idle, nil
}

func (s *MemoryStore) Delete(ctx context.Context, configHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, configHash)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
