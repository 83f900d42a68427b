package engine

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/project"
)

func testEngine() *Engine {
	return New(WithLogger(logger.NewLogger(io.Discard, logger.LevelError)))
}

func slackEvent(code map[string]string, input any) *domain.InvokeTriggerEvent {
	return &domain.InvokeTriggerEvent{
		UserCode: domain.UserCode{Files: code, Entrypoint: "main.js"},
		Trigger: domain.TriggerIdentity{
			Provider:    domain.ProviderRef{Type: "slack", Alias: "team-a"},
			TriggerType: "message",
			Input:       input,
		},
		Data: map[string]any{"text": "hi"},
	}
}

const singleTriggerCode = `
	const { Provider } = require("@triggerkit/sdk");
	const slack = new Provider("slack", "team-a");
	slack.triggers.on("message", { channel: "general" }, (ctx, data) => {
		console.log("got " + data.text);
	});
`

func TestInvokeMatchedTrigger(t *testing.T) {
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": singleTriggerCode}, map[string]any{"channel": "general"})

	result := eng.Invoke(context.Background(), event)

	if !result.Success {
		t.Fatalf("invoke failed: %+v", result.Error)
	}
	if result.TriggersProcessed != 1 || result.TriggersExecuted != 1 {
		t.Errorf("processed/executed = %d/%d, want 1/1", result.TriggersProcessed, result.TriggersExecuted)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "got hi" {
		t.Errorf("logs = %v, want [got hi]", result.Logs)
	}
}

func TestInvokeInputMismatchIsSuccess(t *testing.T) {
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": singleTriggerCode}, map[string]any{"channel": "random"})

	result := eng.Invoke(context.Background(), event)

	if !result.Success {
		t.Fatalf("zero matches must be success, got error: %+v", result.Error)
	}
	if result.TriggersExecuted != 0 {
		t.Errorf("executed = %d, want 0", result.TriggersExecuted)
	}
	if result.TriggersProcessed != 1 {
		t.Errorf("processed = %d, want 1", result.TriggersProcessed)
	}
}

func TestInvokeInputMatchIsStructural(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", { channel: "general", ids: [1, 2] }, () => {
			console.log("fired");
		});
	`
	eng := testEngine()

	// Same structure, different key order and numeric type.
	event := slackEvent(map[string]string{"main.js": code}, map[string]any{
		"ids":     []any{float64(1), float64(2)},
		"channel": "general",
	})

	result := eng.Invoke(context.Background(), event)
	if !result.Success || result.TriggersExecuted != 1 {
		t.Errorf("structural input match failed: %+v", result)
	}
}

func TestInvokeNoTriggersRegistered(t *testing.T) {
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": `module.exports = {};`}, nil)

	result := eng.Invoke(context.Background(), event)

	if result.Success {
		t.Fatal("invocation with no registered triggers must fail")
	}
	if result.Error == nil || !strings.Contains(result.Error.Message, "registered no triggers") {
		t.Errorf("error = %+v, want no-triggers message", result.Error)
	}
}

func TestInvokeHandlersRunSequentially(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", { channel: "general" }, () => console.log("first"));
		slack.triggers.on("message", { channel: "general" }, () => console.log("second"));
	`
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": code}, map[string]any{"channel": "general"})

	result := eng.Invoke(context.Background(), event)

	if !result.Success || result.TriggersExecuted != 2 {
		t.Fatalf("expected both handlers to run: %+v", result)
	}
	if len(result.Logs) != 2 || result.Logs[0] != "first" || result.Logs[1] != "second" {
		t.Errorf("logs = %v, want registration order", result.Logs)
	}
}

func TestInvokeFirstErrorAborts(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", { channel: "general" }, () => {
			console.log("before throw");
			throw new Error("handler exploded");
		});
		slack.triggers.on("message", { channel: "general" }, () => console.log("never runs"));
	`
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": code}, map[string]any{"channel": "general"})

	result := eng.Invoke(context.Background(), event)

	if result.Success {
		t.Fatal("handler throw must fail the invocation")
	}
	if result.TriggersExecuted != 0 {
		t.Errorf("executed = %d, want 0", result.TriggersExecuted)
	}
	if result.Error == nil || result.Error.Message != "handler exploded" {
		t.Errorf("error = %+v, want handler message", result.Error)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "before throw" {
		t.Errorf("logs = %v, want output up to the throw", result.Logs)
	}
}

func TestInvokeAsyncHandler(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", { channel: "general" }, async (ctx, data) => {
			await new Promise(resolve => setTimeout(resolve, 5));
			console.log("async done: " + data.text);
		});
	`
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": code}, map[string]any{"channel": "general"})

	result := eng.Invoke(context.Background(), event)

	if !result.Success || result.TriggersExecuted != 1 {
		t.Fatalf("async handler failed: %+v", result)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "async done: hi" {
		t.Errorf("logs = %v, want post-await output captured", result.Logs)
	}
}

func TestInvokeAsyncRejection(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", { channel: "general" }, async () => {
			throw new Error("async boom");
		});
	`
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": code}, map[string]any{"channel": "general"})

	result := eng.Invoke(context.Background(), event)

	if result.Success {
		t.Fatal("rejected handler must fail the invocation")
	}
	if result.Error == nil || result.Error.Message != "async boom" {
		t.Errorf("error = %+v, want async boom", result.Error)
	}
}

func TestInvokeProviderConfigInjection(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", { channel: "general" }, () => {
			console.log("token=" + slack.config.token);
		});
	`
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": code}, map[string]any{"channel": "general"})
	event.ProviderConfigs = map[string]any{
		"slack:team-a": map[string]any{"token": "xoxb-123"},
	}

	result := eng.Invoke(context.Background(), event)

	if !result.Success {
		t.Fatalf("invoke failed: %+v", result.Error)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "token=xoxb-123" {
		t.Errorf("logs = %v, want injected config token", result.Logs)
	}
}

func TestInvokeHandlerContext(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		slack.triggers.on("message", { channel: "general" }, (ctx) => {
			console.log(ctx.executionId + "/" + ctx.trigger.triggerType + "/" + ctx.trigger.provider.alias);
		});
	`
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": code}, map[string]any{"channel": "general"})
	event.ExecutionID = "exec-1"

	result := eng.Invoke(context.Background(), event)

	if !result.Success {
		t.Fatalf("invoke failed: %+v", result.Error)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "exec-1/message/team-a" {
		t.Errorf("logs = %v, want handler context fields", result.Logs)
	}
}

func TestInvokeFreshSessionPerInvocation(t *testing.T) {
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": singleTriggerCode}, map[string]any{"channel": "general"})

	for i := 0; i < 3; i++ {
		result := eng.Invoke(context.Background(), event)
		if !result.Success {
			t.Fatalf("invocation %d failed: %+v", i, result.Error)
		}
		if result.TriggersProcessed != 1 {
			t.Errorf("invocation %d processed %d triggers, registrations leaked across runs", i, result.TriggersProcessed)
		}
	}
}

func TestInvokeEvaluationFailure(t *testing.T) {
	eng := testEngine()
	event := slackEvent(map[string]string{"main.js": `require("./nowhere");`}, nil)

	result := eng.Invoke(context.Background(), event)

	if result.Success {
		t.Fatal("broken entry point must fail the invocation")
	}
	if result.Error == nil || !strings.Contains(result.Error.Message, "./nowhere") {
		t.Errorf("error = %+v, want missing specifier named", result.Error)
	}
}

func TestGetDefinitions(t *testing.T) {
	code := `
		const { Provider } = require("@triggerkit/sdk");
		const slack = new Provider("slack", "team-a");
		const gh = new Provider({ type: "github", alias: "org" });
		slack.triggers.on("message", { channel: "general" }, () => {});
		gh.triggers.on("push", { branch: "main" }, () => {});
	`
	eng := testEngine()
	proj, err := project.New(map[string]string{"main.js": code}, "main.js")
	if err != nil {
		t.Fatalf("building project: %v", err)
	}

	defs, err := eng.GetDefinitions(proj, nil)
	if err != nil {
		t.Fatalf("GetDefinitions: %v", err)
	}

	if len(defs.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(defs.Providers))
	}
	if defs.Providers[1] != (domain.ProviderRef{Type: "github", Alias: "org"}) {
		t.Errorf("second provider = %+v, want github:org", defs.Providers[1])
	}

	if len(defs.Triggers) != 2 {
		t.Fatalf("triggers = %d, want 2", len(defs.Triggers))
	}
	if defs.Triggers[1].TriggerType != "push" {
		t.Errorf("second trigger type = %q, want push", defs.Triggers[1].TriggerType)
	}
}

func TestGetDefinitionsEmptyRegistrationIsNotError(t *testing.T) {
	eng := testEngine()
	proj, err := project.New(map[string]string{"main.js": `module.exports = {};`}, "main.js")
	if err != nil {
		t.Fatalf("building project: %v", err)
	}

	defs, err := eng.GetDefinitions(proj, nil)
	if err != nil {
		t.Fatalf("GetDefinitions on empty registration: %v", err)
	}
	if len(defs.Triggers) != 0 || len(defs.Providers) != 0 {
		t.Errorf("definitions = %+v, want empty lists", defs)
	}
}
