package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/metabrainz/caa-backup/pkg/ledger"
)

// fetchError classifies a failed fetch into the ledger status it should
// produce.
type fetchError struct {
	status ledger.Status
	msg    string
}

func (e *fetchError) Error() string {
	return e.msg
}

// fetch downloads one item, applying the failure taxonomy:
//
//	2xx                       -> payload returned
//	429, 503                  -> retried in-process with exponential
//	                             backoff; TEMP_ERROR once the ceiling
//	                             is exceeded
//	other 4xx                 -> PERMANENT_ERROR, no retry
//	other 5xx, network errors -> TEMP_ERROR, left for the next run
func (e *Engine) fetch(ctx context.Context, url string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(&fetchError{
				status: ledger.StatusPermanentError,
				msg:    fmt.Sprintf("invalid request: %v", err),
			})
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := e.client.Do(req)
		if err != nil {
			// Connection errors and timeouts are not retried this run.
			return nil, backoff.Permanent(&fetchError{
				status: ledger.StatusTempError,
				msg:    fmt.Sprintf("request failed: %v", err),
			})
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, backoff.Permanent(&fetchError{
					status: ledger.StatusTempError,
					msg:    fmt.Sprintf("failed to read body: %v", err),
				})
			}
			return data, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			// Retryable within this run, bounded by the backoff ceiling.
			return nil, &fetchError{
				status: ledger.StatusTempError,
				msg:    fmt.Sprintf("backoff exhausted on HTTP %d", resp.StatusCode),
			}

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, backoff.Permanent(&fetchError{
				status: ledger.StatusPermanentError,
				msg:    fmt.Sprintf("could not load resource: HTTP %d", resp.StatusCode),
			})

		default:
			return nil, backoff.Permanent(&fetchError{
				status: ledger.StatusTempError,
				msg:    fmt.Sprintf("unhandled status code: HTTP %d", resp.StatusCode),
			})
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryInitialWait
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = e.retryMaxElapsed
	policy.MaxElapsedTime = e.retryMaxElapsed

	return backoff.RetryWithData(operation, backoff.WithContext(policy, ctx))
}
