package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/protocol"
)

// childEnvAllowList is the only parent environment passed to forked runners.
// Everything else (cloud credentials, database URLs, registry auth) stays in
// the parent process.
var childEnvAllowList = []string{
	"PATH",
	"HOME",
	"TMPDIR",
	"LOG_LEVEL",
	"BACKEND_URL",
	"NODE_ENV",
}

// LocalRuntime forks a runner process per invocation. The request travels on
// stdin, the response is the child's final stdout line, and a watchdog kills
// the child at the configured wall-clock ceiling.
type LocalRuntime struct {
	cfg config.RuntimeConfig
	log *logger.Logger
}

func NewLocalRuntime(cfg config.RuntimeConfig, log *logger.Logger) *LocalRuntime {
	return &LocalRuntime{cfg: cfg, log: log}
}

func (r *LocalRuntime) Type() string {
	return config.RuntimeTypeLocal
}

// CreateRuntime is a no-op for the local backend: the substrate is the
// runner binary already on disk.
func (r *LocalRuntime) CreateRuntime(ctx context.Context, record *domain.RuntimeRecord) error {
	record.CreationLogs = append(record.CreationLogs, "local runtime ready")
	return nil
}

func (r *LocalRuntime) GetRuntimeStatus(ctx context.Context, record *domain.RuntimeRecord) (domain.CreationStatus, error) {
	return domain.CreationCompleted, nil
}

func (r *LocalRuntime) IsHealthy(ctx context.Context) error {
	argv, err := r.runnerArgv()
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("runner binary unavailable: %w", err)
	}
	return nil
}

func (r *LocalRuntime) InvokeTrigger(ctx context.Context, record *domain.RuntimeRecord, event *domain.InvokeTriggerEvent) (*domain.InvokeTriggerResult, error) {
	resp, err := r.run(ctx, &protocol.Request{Type: protocol.TypeInvoke, Event: event})
	if err != nil {
		return nil, err
	}
	return resultFromResponse(resp)
}

func (r *LocalRuntime) GetDefinitions(ctx context.Context, record *domain.RuntimeRecord, code domain.UserCode, providerConfigs map[string]any) (*domain.Definitions, error) {
	resp, err := r.run(ctx, &protocol.Request{
		Type:            protocol.TypeDefinitions,
		UserCode:        &code,
		ProviderConfigs: providerConfigs,
	})
	if err != nil {
		return nil, err
	}
	return definitionsFromResponse(resp)
}

func (r *LocalRuntime) DestroyRuntime(ctx context.Context, record *domain.RuntimeRecord) error {
	return nil
}

// run forks one runner child and shepherds a single request/response pair
// through it.
func (r *LocalRuntime) run(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	argv, err := r.runnerArgv()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding runner request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.InvokeTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = childEnv()
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		r.log.Warn("runner child killed by watchdog", map[string]any{
			"timeout": r.cfg.InvokeTimeout.String(),
			"elapsed": time.Since(started).String(),
		})
		return nil, &domain.RuntimeTimeoutError{Timeout: r.cfg.InvokeTimeout}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("runner exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("starting runner: %w", err)
	}

	return parseRunnerOutput(stdout.Bytes())
}

// runnerArgv resolves the child command line. An explicit RUNNER_COMMAND wins;
// otherwise the current binary re-execs itself in child mode.
func (r *LocalRuntime) runnerArgv() ([]string, error) {
	if len(r.cfg.RunnerCommand) > 0 {
		return r.cfg.RunnerCommand, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating runner binary: %w", err)
	}
	return []string{self, "child"}, nil
}

func childEnv() []string {
	env := make([]string, 0, len(childEnvAllowList))
	for _, key := range childEnvAllowList {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+value)
		}
	}
	return env
}
