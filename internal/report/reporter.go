// Package report posts execution outcomes back to the control plane.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
)

// Completion is the body posted to the completion endpoint. A nil Error means
// the execution succeeded.
type Completion struct {
	Error      *domain.ErrorInfo `json:"error,omitempty"`
	Logs       []string          `json:"logs"`
	DurationMS int64             `json:"duration_ms"`
}

// Reporter delivers completion callbacks. Delivery is strictly best effort:
// every failure mode is logged and swallowed so the invocation result is
// never affected by backend availability.
type Reporter struct {
	backendURL string
	client     *http.Client
	log        *logger.Logger
}

func NewReporter(backendURL string, log *logger.Logger) *Reporter {
	return &Reporter{
		backendURL: strings.TrimRight(backendURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// ReportCompletion posts the outcome of one execution. The auth token rides
// in the Authorization header and is never logged.
func (r *Reporter) ReportCompletion(ctx context.Context, executionID, authToken string, completion Completion) {
	if completion.Logs == nil {
		completion.Logs = []string{}
	}

	body, err := json.Marshal(completion)
	if err != nil {
		r.log.Warn("failed to encode completion report", map[string]any{
			"execution_id": executionID,
			"error":        err.Error(),
		})
		return
	}

	url := fmt.Sprintf("%s/api/executions/%s/complete", r.backendURL, executionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r.log.Warn("failed to build completion request", map[string]any{
			"execution_id": executionID,
			"error":        err.Error(),
		})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("completion report delivery failed", map[string]any{
			"execution_id": executionID,
			"error":        err.Error(),
		})
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.log.Warn("completion report rejected", map[string]any{
			"execution_id": executionID,
			"status":       resp.StatusCode,
		})
		return
	}

	r.log.Debug("completion report delivered", map[string]any{
		"execution_id": executionID,
	})
}
