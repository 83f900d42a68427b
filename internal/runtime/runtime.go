// Package runtime abstracts the compute substrates that execute user code:
// a forked local process, a per-config container image, or an AWS Lambda
// function. All backends speak the same protocol frames; only provisioning
// and transport differ.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/protocol"
)

// Runtime is the lifecycle and invocation contract every backend implements.
// CreateRuntime is synchronous from the backend's point of view; idempotency
// and async dispatch live in the Manager above it.
type Runtime interface {
	// Type returns the backend identifier (local, container, lambda).
	Type() string

	// CreateRuntime provisions the substrate for one runtime record,
	// appending provisioning output to the record's creation logs.
	CreateRuntime(ctx context.Context, record *domain.RuntimeRecord) error

	// GetRuntimeStatus reports the backend's live view of the substrate.
	GetRuntimeStatus(ctx context.Context, record *domain.RuntimeRecord) (domain.CreationStatus, error)

	// IsHealthy verifies the backend's own dependencies are reachable.
	IsHealthy(ctx context.Context) error

	// InvokeTrigger runs one event delivery on the substrate.
	InvokeTrigger(ctx context.Context, record *domain.RuntimeRecord, event *domain.InvokeTriggerEvent) (*domain.InvokeTriggerResult, error)

	// GetDefinitions evaluates user code on the substrate without invoking.
	GetDefinitions(ctx context.Context, record *domain.RuntimeRecord, code domain.UserCode, providerConfigs map[string]any) (*domain.Definitions, error)

	// DestroyRuntime tears the substrate down. Destroying an absent
	// substrate is not an error.
	DestroyRuntime(ctx context.Context, record *domain.RuntimeRecord) error
}

// parseRunnerOutput extracts the protocol response from a runner's stdout.
// Runners print exactly one JSON frame as their final line; anything above it
// is tolerated as stray output.
func parseRunnerOutput(stdout []byte) (*protocol.Response, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, fmt.Errorf("malformed runner response: %w", err)
		}
		return &resp, nil
	}
	return nil, fmt.Errorf("runner produced no response")
}

// resultFromResponse converts a protocol response into an invocation result,
// folding transport-level failures into errors.
func resultFromResponse(resp *protocol.Response) (*domain.InvokeTriggerResult, error) {
	if !resp.OK {
		return nil, fmt.Errorf("runner rejected request: %s", resp.Error)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("runner response missing result")
	}
	return resp.Result, nil
}

func definitionsFromResponse(resp *protocol.Response) (*domain.Definitions, error) {
	if !resp.OK {
		return nil, fmt.Errorf("runner rejected request: %s", resp.Error)
	}
	if resp.Definitions == nil {
		return nil, fmt.Errorf("runner response missing definitions")
	}
	return resp.Definitions, nil
}
