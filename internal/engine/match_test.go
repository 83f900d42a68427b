package engine

import (
	"testing"

	"github.com/triggerkit/triggerkit/internal/domain"
)

func TestMatchesTuple(t *testing.T) {
	meta := domain.ProviderMeta{
		Type:        "slack",
		Alias:       "team-a",
		TriggerType: "message",
		Input:       map[string]any{"channel": "general"},
	}

	tests := []struct {
		name     string
		identity domain.TriggerIdentity
		want     bool
	}{
		{
			name: "exact match",
			identity: domain.TriggerIdentity{
				Provider:    domain.ProviderRef{Type: "slack", Alias: "team-a"},
				TriggerType: "message",
				Input:       map[string]any{"channel": "general"},
			},
			want: true,
		},
		{
			name: "alias differs",
			identity: domain.TriggerIdentity{
				Provider:    domain.ProviderRef{Type: "slack", Alias: "team-b"},
				TriggerType: "message",
				Input:       map[string]any{"channel": "general"},
			},
			want: false,
		},
		{
			name: "trigger type differs",
			identity: domain.TriggerIdentity{
				Provider:    domain.ProviderRef{Type: "slack", Alias: "team-a"},
				TriggerType: "reaction",
				Input:       map[string]any{"channel": "general"},
			},
			want: false,
		},
		{
			name: "input differs",
			identity: domain.TriggerIdentity{
				Provider:    domain.ProviderRef{Type: "slack", Alias: "team-a"},
				TriggerType: "message",
				Input:       map[string]any{"channel": "random"},
			},
			want: false,
		},
		{
			name: "extra input key",
			identity: domain.TriggerIdentity{
				Provider:    domain.ProviderRef{Type: "slack", Alias: "team-a"},
				TriggerType: "message",
				Input:       map[string]any{"channel": "general", "thread": true},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(meta, tt.identity); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJSONEqualNormalizesTypes(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int vs float", map[string]any{"n": 1}, map[string]any{"n": float64(1)}, true},
		{"both nil", nil, nil, true},
		{"nil vs empty object", nil, map[string]any{}, false},
		{"nested arrays", []any{1, []any{2}}, []any{float64(1), []any{float64(2)}}, true},
		{"string vs number", map[string]any{"n": "1"}, map[string]any{"n": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jsonEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("jsonEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
