package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry enables error reporting. An empty DSN leaves Sentry disabled and
// every capture call becomes a no-op.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// FlushSentry waits briefly for buffered events before shutdown.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
