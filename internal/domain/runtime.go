package domain

import (
	"encoding/json"
	"time"
)

// CreationStatus tracks provisioning of one runtime record.
type CreationStatus string

const (
	CreationInProgress CreationStatus = "IN_PROGRESS"
	CreationCompleted  CreationStatus = "COMPLETED"
	CreationFailed     CreationStatus = "FAILED"
)

// RuntimeRecord tracks one provisioned compute substrate. ConfigHash is a
// deterministic digest of the backend-specific config, so byte-identical
// configurations share one record and provisioning stays idempotent.
type RuntimeRecord struct {
	ID             string          `json:"id"`
	RuntimeType    string          `json:"runtimeType"`
	ConfigHash     string          `json:"configHash"`
	Config         json.RawMessage `json:"config"`
	CreationStatus CreationStatus  `json:"creationStatus"`
	CreationLogs   []string        `json:"creationLogs"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	LastInvokedAt  time.Time       `json:"lastInvokedAt"`
}

// TransitionTo validates a status change. COMPLETED is terminal for a given
// config hash; FAILED may re-enter IN_PROGRESS on retry.
func (r *RuntimeRecord) TransitionTo(status CreationStatus) error {
	switch {
	case r.CreationStatus == status:
		return nil
	case r.CreationStatus == CreationCompleted:
		return ErrRecordCompleted
	case status == CreationInProgress && r.CreationStatus != CreationFailed:
		return ErrInvalidTransition
	}
	r.CreationStatus = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RuntimeRecord) MarkCompleted(logs ...string) error {
	r.CreationLogs = append(r.CreationLogs, logs...)
	return r.TransitionTo(CreationCompleted)
}

func (r *RuntimeRecord) MarkFailed(reason string) error {
	r.CreationLogs = append(r.CreationLogs, reason)
	return r.TransitionTo(CreationFailed)
}

// ProvisionJob is the message a runtime manager hands to the provisioning
// worker when creation runs asynchronously.
type ProvisionJob struct {
	ConfigHash  string          `json:"configHash"`
	RuntimeType string          `json:"runtimeType"`
	Config      json.RawMessage `json:"config"`
}
