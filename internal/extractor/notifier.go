package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/malawley/hygiene-pipeline/internal/events"
)

// HTTPNotifier posts PipelineEvents to the Trigger's event ingress
// (spec.md §6: POST /clean). Sends are best-effort: the caller logs
// failures and never rolls back completed chunks (§4.1 Failure model).
type HTTPNotifier struct {
	TriggerURL string
	Client     *http.Client
}

func NewHTTPNotifier(triggerURL string) *HTTPNotifier {
	return &HTTPNotifier{
		TriggerURL: triggerURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, evt events.PipelineEvent) error {
	if n.TriggerURL == "" {
		return fmt.Errorf("trigger URL not configured")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.TriggerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trigger returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
