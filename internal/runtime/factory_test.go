package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/triggerkit/triggerkit/internal/config"
)

func factoryConfig() *config.Config {
	return &config.Config{
		Runtime: config.RuntimeConfig{
			Type:          config.RuntimeTypeLocal,
			InvokeTimeout: time.Second,
			RunnerCommand: []string{"sh", "-c", "true"},
		},
	}
}

func TestFactoryReturnsSingleton(t *testing.T) {
	f := NewFactory(factoryConfig(), discardLogger())

	first, err := f.Get(context.Background(), config.RuntimeTypeLocal)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := f.Get(context.Background(), config.RuntimeTypeLocal)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("factory constructed two instances for one runtime type")
	}
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	f := NewFactory(factoryConfig(), discardLogger())

	if _, err := f.Get(context.Background(), "firecracker"); err == nil {
		t.Error("expected error for unknown runtime type")
	}
}

func TestFactoryValidatesBackendConfig(t *testing.T) {
	t.Run("container requires registry settings", func(t *testing.T) {
		f := NewFactory(factoryConfig(), discardLogger())
		_, err := f.Get(context.Background(), config.RuntimeTypeContainer)
		if err == nil || !strings.Contains(err.Error(), "REGISTRY_URL") {
			t.Errorf("error = %v, want registry config failure", err)
		}
	})

	t.Run("lambda requires role and registry", func(t *testing.T) {
		f := NewFactory(factoryConfig(), discardLogger())
		_, err := f.Get(context.Background(), config.RuntimeTypeLambda)
		if err == nil || !strings.Contains(err.Error(), "LAMBDA_EXECUTION_ROLE_ARN") {
			t.Errorf("error = %v, want lambda config failure", err)
		}
	})
}
