package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Hostname reads the target's hostname, retrying while the target is
// unreachable for up to maxElapsed. Any other failure is returned at once.
func Hostname(ctx context.Context, ch Channel, maxElapsed time.Duration) (string, error) {
	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(250*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(maxElapsed),
	), ctx)

	name, err := backoff.RetryWithData(func() (string, error) {
		out, err := ch.Run(ctx, HostnameScript())
		if err == nil {
			return out, nil
		}
		var te *TransportError
		if errors.As(err, &te) && te.Unreachable {
			slog.Debug("Target unreachable, retrying.", "target", ch.Target(), "err", err)
			return "", err
		}
		return "", backoff.Permanent(err)
	}, b)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", ch.Target(), err)
	}
	if name == "" {
		return "", fmt.Errorf("probe %s: empty hostname", ch.Target())
	}
	return name, nil
}
