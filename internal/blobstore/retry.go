package blobstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const connectAttempts = 5

// withRetry retries remote store setup a bounded number of times. Regular
// item operations are never retried here; failures surface to the caller.
func withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(b, connectAttempts), ctx))
}
