// Package protocol defines the JSON request/response frames every runtime
// backend speaks to a runner, regardless of how the bytes travel (stdin of a
// forked process, an env var handed to a container, a Lambda payload, or an
// HTTP body).
package protocol

import (
	"context"
	"fmt"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/engine"
	"github.com/triggerkit/triggerkit/internal/project"
)

// RunnerRequestEnv is the env var container and Lambda runners read their
// base64-encoded request from.
const RunnerRequestEnv = "RUNNER_REQUEST"

const (
	TypeInvoke      = "invoke"
	TypeDefinitions = "definitions"
)

// Request is one unit of work for a runner.
type Request struct {
	Type string `json:"type"`

	// Invoke requests.
	Event *domain.InvokeTriggerEvent `json:"event,omitempty"`

	// Definitions requests.
	UserCode        *domain.UserCode `json:"userCode,omitempty"`
	ProviderConfigs map[string]any   `json:"providerConfigs,omitempty"`
}

// Response is the runner's answer. OK reflects transport-level handling;
// a trigger handler failure is still OK=true with Result.Success=false.
type Response struct {
	OK          bool                        `json:"ok"`
	Result      *domain.InvokeTriggerResult `json:"result,omitempty"`
	Definitions *domain.Definitions         `json:"definitions,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

// Handle executes one request against an engine. It never returns an error;
// everything surfaces in the response so transports stay dumb pipes.
func Handle(ctx context.Context, eng *engine.Engine, req *Request) *Response {
	switch req.Type {
	case TypeInvoke:
		if req.Event == nil {
			return &Response{Error: "invoke request missing event"}
		}
		return &Response{OK: true, Result: eng.Invoke(ctx, req.Event)}

	case TypeDefinitions:
		if req.UserCode == nil {
			return &Response{Error: "definitions request missing user code"}
		}
		proj, err := project.FromUserCode(*req.UserCode)
		if err != nil {
			return &Response{Error: err.Error()}
		}
		defs, err := eng.GetDefinitions(proj, req.ProviderConfigs)
		if err != nil {
			return &Response{Error: err.Error()}
		}
		return &Response{OK: true, Definitions: defs}

	default:
		return &Response{Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}
