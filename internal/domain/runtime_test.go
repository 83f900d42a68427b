package domain

import (
	"errors"
	"testing"
)

func TestRuntimeRecordTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    CreationStatus
		to      CreationStatus
		wantErr error
	}{
		{"in progress to completed", CreationInProgress, CreationCompleted, nil},
		{"in progress to failed", CreationInProgress, CreationFailed, nil},
		{"failed retries to in progress", CreationFailed, CreationInProgress, nil},
		{"completed is terminal", CreationCompleted, CreationFailed, ErrRecordCompleted},
		{"completed cannot restart", CreationCompleted, CreationInProgress, ErrRecordCompleted},
		{"in progress cannot re-enter itself via failed path", CreationInProgress, CreationInProgress, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := &RuntimeRecord{CreationStatus: tt.from}
			err := record.TransitionTo(tt.to)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TransitionTo(%s) from %s: err = %v, want %v", tt.to, tt.from, err, tt.wantErr)
			}
			if err == nil && record.CreationStatus != tt.to {
				t.Errorf("status = %s, want %s", record.CreationStatus, tt.to)
			}
		})
	}
}

func TestMarkCompletedAndFailed(t *testing.T) {
	record := &RuntimeRecord{CreationStatus: CreationInProgress}
	if err := record.MarkCompleted("image pushed"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if record.CreationStatus != CreationCompleted {
		t.Errorf("status = %s, want COMPLETED", record.CreationStatus)
	}
	if len(record.CreationLogs) != 1 {
		t.Errorf("logs = %v", record.CreationLogs)
	}

	failed := &RuntimeRecord{CreationStatus: CreationInProgress}
	if err := failed.MarkFailed("pull denied"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if failed.CreationStatus != CreationFailed {
		t.Errorf("status = %s, want FAILED", failed.CreationStatus)
	}
}
