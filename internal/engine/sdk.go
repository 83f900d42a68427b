package engine

import (
	"github.com/dop251/goja"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/sandbox"
)

// SDKModuleName is the host module user code imports to register providers
// and triggers. The loader also resolves the package's pre-rename alias here.
const SDKModuleName = "@triggerkit/sdk"

// sdkModule builds the host SDK bound to one session. The returned module
// exports a Provider constructor; `new Provider(type, alias)` records the
// provider and exposes its decrypted config, and `provider.triggers.on(kind,
// input, handler)` registers a trigger. The session is the only path from
// user code back into the host.
func sdkModule(session *Session) sandbox.HostModule {
	return func(vm *goja.Runtime) (goja.Value, error) {
		exports := vm.NewObject()

		providerCtor := func(call goja.ConstructorCall) *goja.Object {
			ref := providerRefFromArgs(vm, call)
			session.UseProvider(ref)

			this := call.This
			mustSet(vm, this, "type", ref.Type)
			mustSet(vm, this, "alias", ref.Alias)
			mustSet(vm, this, "config", vm.ToValue(session.ProviderConfig(ref)))
			mustSet(vm, this, "triggers", triggersObject(vm, session, ref))
			return nil
		}

		if err := exports.Set("Provider", providerCtor); err != nil {
			return nil, err
		}
		return exports, nil
	}
}

// triggersObject is the explicit registration surface hung off a provider.
// A plain object with one method keeps registration inspectable; no dynamic
// property interception is involved.
func triggersObject(vm *goja.Runtime, session *Session, ref domain.ProviderRef) *goja.Object {
	triggers := vm.NewObject()
	on := func(call goja.FunctionCall) goja.Value {
		triggerType := call.Argument(0).String()
		if triggerType == "" || goja.IsUndefined(call.Argument(0)) {
			panic(vm.NewTypeError("trigger type is required"))
		}

		handler, ok := goja.AssertFunction(call.Argument(2))
		if !ok {
			panic(vm.NewTypeError("trigger handler must be a function"))
		}

		session.RegisterTrigger(domain.ProviderMeta{
			Type:        ref.Type,
			Alias:       ref.Alias,
			TriggerType: triggerType,
			Input:       call.Argument(1).Export(),
		}, handler)
		return goja.Undefined()
	}
	mustSet(vm, triggers, "on", on)
	return triggers
}

// providerRefFromArgs accepts both `new Provider("slack", "team-a")` and
// `new Provider({type: "slack", alias: "team-a"})`.
func providerRefFromArgs(vm *goja.Runtime, call goja.ConstructorCall) domain.ProviderRef {
	first := call.Argument(0)
	if obj, ok := first.(*goja.Object); ok && len(call.Arguments) == 1 {
		ref := domain.ProviderRef{
			Type:  stringProp(obj, "type"),
			Alias: stringProp(obj, "alias"),
		}
		if ref.Type == "" {
			panic(vm.NewTypeError("provider type is required"))
		}
		return ref
	}

	if goja.IsUndefined(first) {
		panic(vm.NewTypeError("provider type is required"))
	}
	ref := domain.ProviderRef{Type: first.String()}
	if alias := call.Argument(1); !goja.IsUndefined(alias) {
		ref.Alias = alias.String()
	}
	return ref
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	return v.String()
}

func mustSet(vm *goja.Runtime, obj *goja.Object, name string, value any) {
	if err := obj.Set(name, value); err != nil {
		panic(vm.NewGoError(err))
	}
}
