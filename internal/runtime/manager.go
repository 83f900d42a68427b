package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/metrics"
	"github.com/triggerkit/triggerkit/internal/storage"
)

// ProvisionPublisher hands a provisioning job to an async worker. A nil
// publisher makes the Manager provision inline.
type ProvisionPublisher interface {
	PublishProvision(ctx context.Context, job domain.ProvisionJob) error
}

// ArtifactSink archives provisioning output after a runtime completes.
type ArtifactSink interface {
	PutProvisionLog(ctx context.Context, configHash string, logs []string) (string, error)
}

// Manager owns the runtime record lifecycle: idempotent creation keyed by
// config hash, provisioning (inline or queued), invocation routing, and idle
// teardown.
type Manager struct {
	store     storage.RecordStore
	factory   *Factory
	publisher ProvisionPublisher
	artifacts ArtifactSink
	metrics   *metrics.Collector
	log       *logger.Logger
	idleTTL   time.Duration
}

type ManagerOption func(*Manager)

func WithPublisher(p ProvisionPublisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

func WithArtifacts(a ArtifactSink) ManagerOption {
	return func(m *Manager) { m.artifacts = a }
}

func WithMetrics(mc *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = mc }
}

func WithIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTTL = ttl }
}

func NewManager(store storage.RecordStore, factory *Factory, log *logger.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		factory: factory,
		log:     log,
		idleTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRuntime ensures a runtime record exists for the config and that
// provisioning has been started. The call is idempotent: a COMPLETED or
// IN_PROGRESS record returns as-is, and a FAILED record re-enters
// IN_PROGRESS before provisioning is dispatched again.
func (m *Manager) CreateRuntime(ctx context.Context, runtimeType string, cfg json.RawMessage) (*domain.RuntimeRecord, error) {
	configHash, err := HashConfig(runtimeType, cfg)
	if err != nil {
		return nil, err
	}

	record, err := m.store.GetByHash(ctx, configHash)
	switch {
	case err == nil:
		switch record.CreationStatus {
		case domain.CreationCompleted, domain.CreationInProgress:
			return record, nil
		case domain.CreationFailed:
			if err := m.store.SetStatus(ctx, configHash, domain.CreationInProgress, []string{"retrying provisioning"}); err != nil {
				return nil, err
			}
		}

	case errors.Is(err, domain.ErrRecordNotFound):
		record = &domain.RuntimeRecord{
			RuntimeType:    runtimeType,
			ConfigHash:     configHash,
			Config:         cfg,
			CreationStatus: domain.CreationInProgress,
		}
		if err := m.store.Create(ctx, record); err != nil {
			return nil, err
		}

	default:
		return nil, err
	}

	job := domain.ProvisionJob{ConfigHash: configHash, RuntimeType: runtimeType, Config: cfg}
	if m.publisher != nil {
		if err := m.publisher.PublishProvision(ctx, job); err != nil {
			return nil, fmt.Errorf("enqueueing provision job: %w", err)
		}
	} else {
		if err := m.Provision(ctx, job); err != nil {
			return nil, err
		}
	}

	return m.store.GetByHash(ctx, configHash)
}

// Provision runs one provisioning job to a terminal record state. A backend
// creation failure marks the record FAILED and returns nil: the failure is
// recorded, not retried here. Only infrastructure errors (store, factory)
// propagate so queued jobs can requeue.
func (m *Manager) Provision(ctx context.Context, job domain.ProvisionJob) error {
	record, err := m.store.GetByHash(ctx, job.ConfigHash)
	if err != nil {
		return err
	}
	if record.CreationStatus == domain.CreationCompleted {
		return nil
	}

	rt, err := m.factory.Get(ctx, job.RuntimeType)
	if err != nil {
		return err
	}

	logsBefore := len(record.CreationLogs)
	createErr := rt.CreateRuntime(ctx, record)
	newLogs := record.CreationLogs[logsBefore:]

	if createErr != nil {
		m.recordProvisioning(rt.Type(), "failure")
		failure := append(newLogs, createErr.Error())
		if err := m.store.SetStatus(ctx, job.ConfigHash, domain.CreationFailed, failure); err != nil {
			return err
		}
		m.log.Error("runtime provisioning failed", map[string]any{
			"config_hash": job.ConfigHash,
			"runtime":     job.RuntimeType,
			"error":       createErr.Error(),
		})
		return nil
	}

	if err := m.store.SetStatus(ctx, job.ConfigHash, domain.CreationCompleted, newLogs); err != nil {
		return err
	}
	m.recordProvisioning(rt.Type(), "success")

	if m.artifacts != nil {
		if key, err := m.artifacts.PutProvisionLog(ctx, job.ConfigHash, record.CreationLogs); err != nil {
			m.log.Warn("failed to archive provision log", map[string]any{
				"config_hash": job.ConfigHash,
				"error":       err.Error(),
			})
		} else {
			m.log.Debug("archived provision log", map[string]any{"artifact": key})
		}
	}
	return nil
}

// Invoke routes one event to the runtime for its config, ensuring the
// runtime exists first.
func (m *Manager) Invoke(ctx context.Context, runtimeType string, cfg json.RawMessage, event *domain.InvokeTriggerEvent) (*domain.InvokeTriggerResult, error) {
	record, err := m.CreateRuntime(ctx, runtimeType, cfg)
	if err != nil {
		return nil, err
	}
	if record.CreationStatus != domain.CreationCompleted {
		return nil, fmt.Errorf("runtime %s not ready: %s", record.ConfigHash, record.CreationStatus)
	}

	rt, err := m.factory.Get(ctx, runtimeType)
	if err != nil {
		return nil, err
	}

	result, err := rt.InvokeTrigger(ctx, record, event)
	if err != nil {
		return nil, err
	}

	if err := m.store.TouchInvoked(ctx, record.ConfigHash); err != nil {
		m.log.Warn("failed to stamp invocation time", map[string]any{
			"config_hash": record.ConfigHash,
			"error":       err.Error(),
		})
	}
	return result, nil
}

// GetDefinitions evaluates user code on the runtime for its config.
func (m *Manager) GetDefinitions(ctx context.Context, runtimeType string, cfg json.RawMessage, code domain.UserCode, providerConfigs map[string]any) (*domain.Definitions, error) {
	record, err := m.CreateRuntime(ctx, runtimeType, cfg)
	if err != nil {
		return nil, err
	}
	if record.CreationStatus != domain.CreationCompleted {
		return nil, fmt.Errorf("runtime %s not ready: %s", record.ConfigHash, record.CreationStatus)
	}

	rt, err := m.factory.Get(ctx, runtimeType)
	if err != nil {
		return nil, err
	}
	return rt.GetDefinitions(ctx, record, code, providerConfigs)
}

// TeardownUnusedRuntimes destroys every completed runtime idle past the TTL
// and deletes its record. Returns how many runtimes were torn down.
func (m *Manager) TeardownUnusedRuntimes(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.idleTTL)
	idle, err := m.store.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, record := range idle {
		rt, err := m.factory.Get(ctx, record.RuntimeType)
		if err != nil {
			m.log.Warn("skipping teardown, backend unavailable", map[string]any{
				"config_hash": record.ConfigHash,
				"runtime":     record.RuntimeType,
				"error":       err.Error(),
			})
			continue
		}

		if err := rt.DestroyRuntime(ctx, record); err != nil {
			m.log.Warn("failed to destroy idle runtime", map[string]any{
				"config_hash": record.ConfigHash,
				"error":       err.Error(),
			})
			continue
		}

		if err := m.store.Delete(ctx, record.ConfigHash); err != nil {
			return reaped, err
		}
		if m.metrics != nil {
			m.metrics.RecordRuntimeReaped()
		}
		reaped++
	}
	return reaped, nil
}

func (m *Manager) recordProvisioning(backend, status string) {
	if m.metrics != nil {
		m.metrics.RecordProvisioning(backend, status)
	}
}
