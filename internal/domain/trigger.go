package domain

// ProviderRef names one configured external-service integration.
type ProviderRef struct {
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

// ConfigKey is the lookup key used for decrypted provider configs.
func (p ProviderRef) ConfigKey() string {
	return p.Type + ":" + p.Alias
}

// ProviderMeta is the identity tuple attached to every registered trigger.
// The tuple (Type, Alias, TriggerType, Input) is the sole identity used for
// matching; handler names and registration order never participate.
type ProviderMeta struct {
	Type        string `json:"type"`
	Alias       string `json:"alias"`
	TriggerType string `json:"triggerType"`
	Input       any    `json:"input"`
}

// TriggerIdentity is the identity carried by an inbound event.
type TriggerIdentity struct {
	Provider    ProviderRef `json:"provider"`
	TriggerType string      `json:"triggerType"`
	Input       any         `json:"input"`
}

// UserCode is the wire shape of a virtual project: relative file paths to
// source text plus the entry point evaluated for registrations.
type UserCode struct {
	Files      map[string]string `json:"files"`
	Entrypoint string            `json:"entrypoint"`
}

// InvokeTriggerEvent is one inbound event delivery.
type InvokeTriggerEvent struct {
	UserCode        UserCode        `json:"userCode"`
	Trigger         TriggerIdentity `json:"trigger"`
	Data            any             `json:"data"`
	ExecutionID     string          `json:"executionId,omitempty"`
	AuthToken       string          `json:"authToken,omitempty"`
	ProviderConfigs map[string]any  `json:"providerConfigs,omitempty"`
}

// ErrorInfo is the serializable form of a failed invocation's error.
type ErrorInfo struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// InvokeTriggerResult reports the outcome of one event delivery.
// TriggersProcessed counts the registered triggers the matcher examined;
// TriggersExecuted counts handlers that ran to completion, so
// TriggersExecuted <= TriggersProcessed always holds.
type InvokeTriggerResult struct {
	Success           bool       `json:"success"`
	TriggersProcessed int        `json:"triggersProcessed"`
	TriggersExecuted  int        `json:"triggersExecuted"`
	Error             *ErrorInfo `json:"error,omitempty"`
	Logs              []string   `json:"logs,omitempty"`
	DurationMS        int64      `json:"duration_ms,omitempty"`
}

// Definitions is the introspection result of evaluating a project without
// invoking anything.
type Definitions struct {
	Triggers  []ProviderMeta `json:"triggers"`
	Providers []ProviderRef  `json:"providers"`
}
