package engine

import (
	"encoding/json"
	"reflect"

	"github.com/triggerkit/triggerkit/internal/domain"
)

// Matches reports whether a registered trigger's identity tuple equals an
// inbound event's. Type, alias and trigger kind compare exactly; inputs
// compare by JSON-canonical deep equality. There is no partial matching and
// no precedence: every trigger this returns true for will fire.
func Matches(meta domain.ProviderMeta, identity domain.TriggerIdentity) bool {
	if meta.Type != identity.Provider.Type ||
		meta.Alias != identity.Provider.Alias ||
		meta.TriggerType != identity.TriggerType {
		return false
	}
	return jsonEqual(meta.Input, identity.Input)
}

// jsonEqual compares two values after a JSON round trip, so a goja-exported
// map and a decoded wire payload compare structurally regardless of the Go
// types carrying them.
func jsonEqual(a, b any) bool {
	ca, err := canonicalize(a)
	if err != nil {
		return false
	}
	cb, err := canonicalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(ca, cb)
}

func canonicalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
