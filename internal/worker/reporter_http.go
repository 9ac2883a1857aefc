package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// errReportRejected marks responses that retrying cannot fix.
var errReportRejected = errors.New("report rejected")

// HTTPReporter posts worker events to the orchestrator's worker API.
// Transient failures are retried with backoff; rejections are not.
type HTTPReporter struct {
	baseURL string
	token   string
	client  *http.Client
	retry   retrypolicy.RetryPolicy[any]
}

func NewHTTPReporter(baseURL, token string) *HTTPReporter {
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, errReportRejected)
		}).
		WithBackoff(500*time.Millisecond, 5*time.Second).
		WithMaxRetries(3).
		Build()

	return &HTTPReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		retry:   retry,
	}
}

func (r *HTTPReporter) Report(ctx context.Context, e Event) (Ack, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Ack{}, fmt.Errorf("encode event: %w", err)
	}
	url := fmt.Sprintf("%s/api/worker/sessions/%s/events", r.baseURL, e.SessionID)

	var ack Ack
	err = failsafe.NewExecutor[any](r.retry).WithContext(ctx).Run(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+r.token)

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&ack)
		case resp.StatusCode == http.StatusNotFound:
			// Session unknown or stale; nothing to keep running for.
			ack = Ack{Action: ActionStop}
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("%w: status %d: %s", errReportRejected, resp.StatusCode, strings.TrimSpace(string(body)))
		default:
			return fmt.Errorf("report event: status %d", resp.StatusCode)
		}
	})
	if err != nil {
		return Ack{}, err
	}
	return ack, nil
}

var _ Reporter = (*HTTPReporter)(nil)
