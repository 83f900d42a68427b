package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/logger"
)

// Factory builds and caches runtime backends. Construction validates the
// backend's configuration eagerly so a misconfigured deployment fails on the
// first lookup instead of the first invocation.
type Factory struct {
	cfg *config.Config
	log *logger.Logger

	mu     sync.Mutex
	cached map[string]Runtime
}

func NewFactory(cfg *config.Config, log *logger.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		log:    log,
		cached: make(map[string]Runtime),
	}
}

// Get returns the backend for a runtime type, constructing it on first use.
// Backends are singletons per factory.
func (f *Factory) Get(ctx context.Context, runtimeType string) (Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rt, ok := f.cached[runtimeType]; ok {
		return rt, nil
	}

	rt, err := f.build(ctx, runtimeType)
	if err != nil {
		return nil, err
	}
	f.cached[runtimeType] = rt
	return rt, nil
}

func (f *Factory) build(ctx context.Context, runtimeType string) (Runtime, error) {
	switch runtimeType {
	case config.RuntimeTypeLocal:
		return NewLocalRuntime(f.cfg.Runtime, f.log), nil

	case config.RuntimeTypeContainer:
		if f.cfg.Docker.RegistryURL == "" || f.cfg.Docker.Repository == "" {
			return nil, fmt.Errorf("container runtime requires REGISTRY_URL and REGISTRY_REPOSITORY")
		}
		return NewContainerRuntime(f.cfg.Runtime, f.cfg.Docker, f.log)

	case config.RuntimeTypeLambda:
		if f.cfg.Lambda.ExecutionRoleARN == "" || f.cfg.Lambda.ImageRegistry == "" {
			return nil, fmt.Errorf("lambda runtime requires LAMBDA_EXECUTION_ROLE_ARN and LAMBDA_IMAGE_REGISTRY")
		}
		return NewLambdaRuntime(ctx, f.cfg.Runtime, f.cfg.Lambda, f.log)

	default:
		return nil, fmt.Errorf("unknown runtime type %q", runtimeType)
	}
}
