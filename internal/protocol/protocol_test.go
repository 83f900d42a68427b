package protocol

import (
	"context"
	"io"
	"testing"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/engine"
	"github.com/triggerkit/triggerkit/internal/logger"
)

func testEngine() *engine.Engine {
	return engine.New(engine.WithLogger(logger.NewLogger(io.Discard, logger.LevelError)))
}

const registeringCode = `
	const { Provider } = require("@triggerkit/sdk");
	const slack = new Provider("slack", "team-a");
	slack.triggers.on("message", { channel: "general" }, () => console.log("ran"));
`

func TestHandleInvoke(t *testing.T) {
	resp := Handle(context.Background(), testEngine(), &Request{
		Type: TypeInvoke,
		Event: &domain.InvokeTriggerEvent{
			UserCode: domain.UserCode{Files: map[string]string{"main.js": registeringCode}, Entrypoint: "main.js"},
			Trigger: domain.TriggerIdentity{
				Provider:    domain.ProviderRef{Type: "slack", Alias: "team-a"},
				TriggerType: "message",
				Input:       map[string]any{"channel": "general"},
			},
		},
	})

	if !resp.OK {
		t.Fatalf("response not OK: %s", resp.Error)
	}
	if resp.Result == nil || !resp.Result.Success || resp.Result.TriggersExecuted != 1 {
		t.Errorf("result = %+v", resp.Result)
	}
}

func TestHandleInvokeHandlerFailureIsStillOK(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", {}, () => { throw new Error("boom"); });
	`
	resp := Handle(context.Background(), testEngine(), &Request{
		Type: TypeInvoke,
		Event: &domain.InvokeTriggerEvent{
			UserCode: domain.UserCode{Files: map[string]string{"main.js": code}, Entrypoint: "main.js"},
			Trigger: domain.TriggerIdentity{
				Provider:    domain.ProviderRef{Type: "slack", Alias: "team-a"},
				TriggerType: "message",
				Input:       map[string]any{},
			},
		},
	})

	if !resp.OK {
		t.Fatal("handler failure must not fail the transport frame")
	}
	if resp.Result == nil || resp.Result.Success {
		t.Errorf("result = %+v, want unsuccessful result", resp.Result)
	}
}

func TestHandleDefinitions(t *testing.T) {
	resp := Handle(context.Background(), testEngine(), &Request{
		Type:     TypeDefinitions,
		UserCode: &domain.UserCode{Files: map[string]string{"main.js": registeringCode}, Entrypoint: "main.js"},
	})

	if !resp.OK {
		t.Fatalf("response not OK: %s", resp.Error)
	}
	if resp.Definitions == nil || len(resp.Definitions.Triggers) != 1 {
		t.Errorf("definitions = %+v", resp.Definitions)
	}
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"unknown type", &Request{Type: "build"}},
		{"invoke without event", &Request{Type: TypeInvoke}},
		{"definitions without code", &Request{Type: TypeDefinitions}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Handle(context.Background(), testEngine(), tt.req)
			if resp.OK || resp.Error == "" {
				t.Errorf("response = %+v, want transport error", resp)
			}
		})
	}
}
