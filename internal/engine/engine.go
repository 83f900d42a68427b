// Package engine evaluates a virtual project for trigger registrations and
// dispatches inbound events to the matching handlers.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/metrics"
	"github.com/triggerkit/triggerkit/internal/project"
	"github.com/triggerkit/triggerkit/internal/report"
	"github.com/triggerkit/triggerkit/internal/sandbox"
)

// Engine runs the evaluate-then-dispatch pipeline. It holds no per-invocation
// state: every Invoke builds its own project, session and loader, so
// concurrent invocations are independent.
type Engine struct {
	log      *logger.Logger
	reporter *report.Reporter
	metrics  *metrics.Collector
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithReporter enables completion reporting to the control plane.
func WithReporter(r *report.Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

func WithMetrics(mc *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = mc }
}

func New(opts ...Option) *Engine {
	e := &Engine{log: logger.FromEnv()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetDefinitions evaluates a project without invoking anything and returns
// what it registered. An empty registration set is not an error here; only
// dispatch treats it as fatal.
func (e *Engine) GetDefinitions(p *project.Project, providerConfigs map[string]any) (*domain.Definitions, error) {
	session, _, err := e.evaluate(p, providerConfigs)
	if err != nil {
		return nil, err
	}
	return session.Definitions(), nil
}

// Invoke delivers one inbound event: evaluate the project, match registered
// triggers against the event's identity tuple, run every match sequentially,
// and report the outcome. Fatal errors come back inside the result; nothing
// is re-raised to the transport layer.
func (e *Engine) Invoke(ctx context.Context, event *domain.InvokeTriggerEvent) *domain.InvokeTriggerResult {
	started := time.Now()
	ctx = logger.WithExecutionID(ctx, event.ExecutionID)
	clog := e.log.WithContext(ctx)
	result := &domain.InvokeTriggerResult{}

	proj, err := project.FromUserCode(event.UserCode)
	if err != nil {
		return e.finish(ctx, event, e.failResult(result, err), started)
	}

	session, loader, err := e.evaluate(proj, event.ProviderConfigs)
	if err != nil {
		clog.Error("project evaluation failed", map[string]any{"error": err.Error()})
		return e.finish(ctx, event, e.failResult(result, err), started)
	}

	triggers := session.Triggers()
	result.TriggersProcessed = len(triggers)
	if len(triggers) == 0 {
		return e.finish(ctx, event, e.failResult(result, domain.ErrNoTriggersRegistered), started)
	}

	var matched []RegisteredTrigger
	for _, trig := range triggers {
		if Matches(trig.Meta, event.Trigger) {
			matched = append(matched, trig)
		}
	}
	if e.metrics != nil {
		e.metrics.RecordTriggersMatched(len(matched))
	}

	if len(matched) == 0 {
		// Not an error: the project has triggers, just none for this
		// identity tuple.
		clog.Info("no triggers matched event", map[string]any{
			"provider":    event.Trigger.Provider.Type,
			"alias":       event.Trigger.Provider.Alias,
			"triggerType": event.Trigger.TriggerType,
		})
		result.Success = true
		return e.finish(ctx, event, result, started)
	}

	var capturedLogs []string
	var handlerTime time.Duration
	for _, trig := range matched {
		lines, elapsed, err := e.runHandler(loader, trig, event)
		capturedLogs = append(capturedLogs, lines...)
		handlerTime += elapsed

		if err != nil {
			clog.Error("trigger handler failed", map[string]any{
				"triggerType": trig.Meta.TriggerType,
				"error":       err.Error(),
			})
			result.Logs = capturedLogs
			result.DurationMS = handlerTime.Milliseconds()
			return e.finish(ctx, event, e.failResult(result, err), started)
		}
		result.TriggersExecuted++
	}

	result.Success = true
	result.Logs = capturedLogs
	result.DurationMS = handlerTime.Milliseconds()
	return e.finish(ctx, event, result, started)
}

// evaluate constructs a fresh session and loader and runs the entry point.
// The session rides into the sandbox through the SDK host module; reading it
// back afterwards replaces the old read-global-registries step.
func (e *Engine) evaluate(p *project.Project, providerConfigs map[string]any) (*Session, *sandbox.Loader, error) {
	session := NewSession(providerConfigs)
	loader, err := sandbox.NewLoader(
		p,
		sandbox.WithLogger(e.log),
		sandbox.WithHostModule(SDKModuleName, sdkModule(session)),
	)
	if err != nil {
		return nil, nil, err
	}

	if _, err := loader.LoadEntry(); err != nil {
		return nil, nil, err
	}
	return session, loader, nil
}

// runHandler executes one matched handler. The capture window and the timer
// open exactly around the call (including promise settlement), so only
// user-code-attributable time and output are reported.
func (e *Engine) runHandler(loader *sandbox.Loader, trig RegisteredTrigger, event *domain.InvokeTriggerEvent) ([]string, time.Duration, error) {
	vm := loader.VM()
	handlerCtx := vm.ToValue(map[string]any{
		"executionId": event.ExecutionID,
		"trigger": map[string]any{
			"provider": map[string]any{
				"type":  trig.Meta.Type,
				"alias": trig.Meta.Alias,
			},
			"triggerType": trig.Meta.TriggerType,
			"input":       trig.Meta.Input,
		},
	})
	data := vm.ToValue(event.Data)

	sink := loader.Console()
	sink.StartCapture()
	started := time.Now()

	value, err := trig.handler(goja.Undefined(), handlerCtx, data)
	if err == nil {
		_, err = loader.AwaitValue(value)
	}

	elapsed := time.Since(started)
	lines := sink.StopCapture()

	if err != nil {
		return lines, elapsed, &domain.HandlerError{Meta: trig.Meta, Err: sandbox.AsJSError(err)}
	}
	return lines, elapsed, nil
}

func (e *Engine) failResult(result *domain.InvokeTriggerResult, err error) *domain.InvokeTriggerResult {
	result.Success = false
	result.Error = errorInfo(err)
	return result
}

// finish records metrics and reports completion. Reporting failures are
// handled inside the reporter and never alter the result.
func (e *Engine) finish(ctx context.Context, event *domain.InvokeTriggerEvent, result *domain.InvokeTriggerResult, started time.Time) *domain.InvokeTriggerResult {
	if e.metrics != nil {
		status := "success"
		if !result.Success {
			status = "failure"
		}
		e.metrics.RecordInvocation(status, time.Since(started))
	}

	if e.reporter != nil && event.ExecutionID != "" {
		e.reporter.ReportCompletion(ctx, event.ExecutionID, event.AuthToken, report.Completion{
			Error:      result.Error,
			Logs:       result.Logs,
			DurationMS: result.DurationMS,
		})
	}
	return result
}

func errorInfo(err error) *domain.ErrorInfo {
	info := &domain.ErrorInfo{Message: err.Error()}
	var jsErr *sandbox.JSError
	if errors.As(err, &jsErr) {
		info.Message = jsErr.Message
		info.Stack = jsErr.Stack
	}
	return info
}
