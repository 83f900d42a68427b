package engine

import (
	"github.com/dop251/goja"

	"github.com/triggerkit/triggerkit/internal/domain"
)

// RegisteredTrigger pairs an identity tuple with the handler user code
// registered for it. It lives only for the duration of one evaluation.
type RegisteredTrigger struct {
	Meta    domain.ProviderMeta
	handler goja.Callable
}

// Session collects everything user code registers while its entry point
// evaluates: used providers and triggers. A fresh session is constructed per
// evaluation and injected into the sandbox as the only registration surface,
// so nothing can survive from a previous logical run and concurrent
// evaluations never share state.
type Session struct {
	providers []domain.ProviderRef
	triggers  []RegisteredTrigger
	configs   map[string]any
}

func NewSession(providerConfigs map[string]any) *Session {
	return &Session{configs: providerConfigs}
}

// UseProvider records a provider constructed by user code. Duplicate
// (type, alias) pairs collapse to one entry.
func (s *Session) UseProvider(ref domain.ProviderRef) {
	for _, existing := range s.providers {
		if existing == ref {
			return
		}
	}
	s.providers = append(s.providers, ref)
}

// ProviderConfig returns the decrypted config for one provider, or nil when
// the caller supplied none.
func (s *Session) ProviderConfig(ref domain.ProviderRef) any {
	if s.configs == nil {
		return nil
	}
	return s.configs[ref.ConfigKey()]
}

// RegisterTrigger appends a trigger in registration order.
func (s *Session) RegisterTrigger(meta domain.ProviderMeta, handler goja.Callable) {
	s.triggers = append(s.triggers, RegisteredTrigger{Meta: meta, handler: handler})
}

// Triggers returns the registered triggers in registration order.
func (s *Session) Triggers() []RegisteredTrigger {
	return s.triggers
}

// Providers returns the providers user code constructed.
func (s *Session) Providers() []domain.ProviderRef {
	return s.providers
}

// Definitions converts the session's registrations into their wire shape.
func (s *Session) Definitions() *domain.Definitions {
	defs := &domain.Definitions{
		Triggers:  make([]domain.ProviderMeta, 0, len(s.triggers)),
		Providers: make([]domain.ProviderRef, 0, len(s.providers)),
	}
	for _, t := range s.triggers {
		defs.Triggers = append(defs.Triggers, t.Meta)
	}
	defs.Providers = append(defs.Providers, s.providers...)
	return defs
}
