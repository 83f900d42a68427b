// Package sandbox loads a virtual project's modules inside an isolated
// JavaScript context. Each Loader owns one goja runtime whose global scope
// contains only an explicit allow-list of host bindings (timers, Buffer, a
// capturing console sink, process env access); nothing else from the host is
// reachable from user code.
package sandbox

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/process"
	"github.com/dop251/goja_nodejs/require"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/project"
)

// legacyAliases maps historically-renamed host packages to their current
// names before any resolution is attempted.
var legacyAliases = map[string]string{
	"@hookline/sdk": "@triggerkit/sdk",
}

// HostModule instantiates a host-provided module inside the sandbox runtime.
type HostModule func(vm *goja.Runtime) (goja.Value, error)

// Module is one loaded module, cached by canonical path. Exports identity is
// preserved for the lifetime of the loader: two importers of the same path
// see the same object.
type Module struct {
	Path    string
	Exports goja.Value
}

// Loader compiles and instantiates project modules. A Loader lives for
// exactly one evaluation; its module cache is never shared across
// invocations.
type Loader struct {
	vm          *goja.Runtime
	project     *project.Project
	resolver    *Resolver
	modules     map[string]*Module
	hostModules map[string]HostModule
	hostRequire *require.RequireModule
	console     *Console
	timers      *timerQueue
	log         *logger.Logger

	// pendingErr carries the typed error behind the most recent require
	// throw so Load can surface it instead of an opaque JS exception.
	pendingErr error
}

// Option configures a Loader.
type Option func(*Loader)

// WithHostModule exposes a host-backed module under a non-relative specifier.
func WithHostModule(name string, mod HostModule) Option {
	return func(l *Loader) {
		l.hostModules[name] = mod
	}
}

// WithLogger routes uncaptured console output to a structured logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// NewLoader builds an isolated runtime around a project.
func NewLoader(p *project.Project, opts ...Option) (*Loader, error) {
	vm := goja.New()

	l := &Loader{
		vm:          vm,
		project:     p,
		resolver:    NewResolver(p),
		modules:     make(map[string]*Module),
		hostModules: make(map[string]HostModule),
		log:         logger.FromEnv(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.console = newConsole(l.log)
	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(l.console))
	l.hostRequire = registry.Enable(vm)
	console.Enable(vm)
	buffer.Enable(vm)
	process.Enable(vm)

	l.timers = newTimerQueue(vm)
	l.timers.enable()

	return l, nil
}

// VM exposes the underlying runtime for callers that need to convert values
// or invoke callables. All access must stay on the invocation's goroutine.
func (l *Loader) VM() *goja.Runtime {
	return l.vm
}

// Console returns the capturing console sink.
func (l *Loader) Console() *Console {
	return l.console
}

// LoadEntry resolves and loads the project entry point.
func (l *Loader) LoadEntry() (*Module, error) {
	entry := l.project.Entrypoint()
	resolved, ok := l.resolver.Resolve(entry, "")
	if !ok {
		return nil, &domain.ModuleNotFoundError{Specifier: entry}
	}
	return l.Load(resolved)
}

// Require resolves a specifier imported from fromFile and loads the target.
// Non-relative specifiers try host modules and the host registry before
// falling back to project-root-relative resolution.
func (l *Loader) Require(specifier, fromFile string) (goja.Value, error) {
	if alias, ok := legacyAliases[specifier]; ok {
		specifier = alias
	}

	if !IsRelative(specifier) {
		if exports, ok, err := l.loadHostModule(specifier); ok || err != nil {
			return exports, err
		}
		if exports, err := l.hostRequire.Require(specifier); err == nil {
			return exports, nil
		}
	}

	resolved, ok := l.resolver.Resolve(specifier, fromFile)
	if !ok {
		return nil, &domain.ModuleNotFoundError{FromFile: fromFile, Specifier: specifier}
	}

	mod, err := l.Load(resolved)
	if err != nil {
		return nil, err
	}
	return mod.Exports, nil
}

// Load instantiates the module at a canonical project path, returning the
// cached instance on repeat loads.
func (l *Loader) Load(canonicalPath string) (*Module, error) {
	if mod, ok := l.modules[canonicalPath]; ok {
		return mod, nil
	}

	src, ok := l.project.File(canonicalPath)
	if !ok {
		return nil, &domain.ModuleNotFoundError{Specifier: canonicalPath}
	}

	if strings.HasSuffix(canonicalPath, ".json") {
		return l.loadJSON(canonicalPath, src)
	}
	return l.loadScript(canonicalPath, src)
}

func (l *Loader) loadJSON(canonicalPath, src string) (*Module, error) {
	var value any
	if err := json.Unmarshal([]byte(src), &value); err != nil {
		return nil, &domain.InvalidModuleContentError{Path: canonicalPath, Err: err}
	}

	mod := &Module{Path: canonicalPath, Exports: l.vm.ToValue(value)}
	l.modules[canonicalPath] = mod
	return mod, nil
}

func (l *Loader) loadScript(canonicalPath, src string) (*Module, error) {
	wrapped := fmt.Sprintf(
		"(function(exports, require, module, __filename, __dirname) {\n%s\n})",
		src,
	)
	prog, err := goja.Compile(canonicalPath, wrapped, false)
	if err != nil {
		return nil, &domain.EvaluationError{Path: canonicalPath, Err: err}
	}

	fnValue, err := l.vm.RunProgram(prog)
	if err != nil {
		return nil, &domain.EvaluationError{Path: canonicalPath, Err: err}
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, &domain.EvaluationError{Path: canonicalPath, Err: fmt.Errorf("module wrapper did not compile to a function")}
	}

	exports := l.vm.NewObject()
	moduleObj := l.vm.NewObject()
	if err := moduleObj.Set("exports", exports); err != nil {
		return nil, &domain.EvaluationError{Path: canonicalPath, Err: err}
	}

	// Cache before evaluation so import cycles resolve to the same
	// (partially populated) exports object.
	mod := &Module{Path: canonicalPath, Exports: exports}
	l.modules[canonicalPath] = mod

	_, err = fn(
		goja.Undefined(),
		exports,
		l.requireFor(canonicalPath),
		moduleObj,
		l.vm.ToValue(canonicalPath),
		l.vm.ToValue(path.Dir(canonicalPath)),
	)
	if err != nil {
		delete(l.modules, canonicalPath)
		if l.pendingErr != nil {
			inner := l.pendingErr
			l.pendingErr = nil
			return nil, &domain.EvaluationError{Path: canonicalPath, Err: inner}
		}
		return nil, &domain.EvaluationError{Path: canonicalPath, Err: err}
	}

	// Pick up module.exports reassignment.
	mod.Exports = moduleObj.Get("exports")
	return mod, nil
}

// requireFor builds the require closure injected into one module. It closes
// over that module's own path so relative imports inside it resolve
// correctly.
func (l *Loader) requireFor(fromFile string) goja.Value {
	return l.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()
		exports, err := l.Require(specifier, fromFile)
		if err != nil {
			if l.pendingErr == nil {
				l.pendingErr = err
			}
			panic(l.vm.NewGoError(err))
		}
		return exports
	})
}

func (l *Loader) loadHostModule(name string) (goja.Value, bool, error) {
	mod, ok := l.hostModules[name]
	if !ok {
		return nil, false, nil
	}

	cacheKey := "host:" + name
	if cached, ok := l.modules[cacheKey]; ok {
		return cached.Exports, true, nil
	}

	exports, err := mod(l.vm)
	if err != nil {
		return nil, true, err
	}
	l.modules[cacheKey] = &Module{Path: cacheKey, Exports: exports}
	return exports, true, nil
}

// Await drives the loader's timer queue until a promise settles. Rejections
// come back as a *JSError carrying the rejection value's message and stack.
func (l *Loader) Await(p *goja.Promise) (goja.Value, error) {
	for p.State() == goja.PromiseStatePending {
		if !l.timers.runNext() {
			return nil, fmt.Errorf("promise never settles: no pending timers")
		}
	}
	if p.State() == goja.PromiseStateRejected {
		return nil, valueError(p.Result())
	}
	return p.Result(), nil
}

// AwaitValue awaits v when it is a promise, otherwise returns it unchanged.
func (l *Loader) AwaitValue(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		return l.Await(p)
	}
	return v, nil
}

// JSError carries the message and stack of a thrown or rejected JS value.
type JSError struct {
	Message string
	Stack   string
}

func (e *JSError) Error() string {
	return e.Message
}

// AsJSError converts an error from a sandbox call (typically a
// *goja.Exception) into a JSError.
func AsJSError(err error) *JSError {
	if err == nil {
		return nil
	}
	if jsErr, ok := err.(*JSError); ok {
		return jsErr
	}
	if ex, ok := err.(*goja.Exception); ok {
		jsErr := valueError(ex.Value())
		if jsErr.Stack == "" {
			jsErr.Stack = ex.String()
		}
		return jsErr
	}
	return &JSError{Message: err.Error()}
}

func valueError(v goja.Value) *JSError {
	if v == nil {
		return &JSError{Message: "unknown error"}
	}
	jsErr := &JSError{Message: v.String()}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			jsErr.Message = msg.String()
		}
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			jsErr.Stack = stack.String()
		}
	}
	return jsErr
}
