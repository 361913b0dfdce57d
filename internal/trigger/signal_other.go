//go:build !unix

package trigger

import (
	"context"
	"os"
)

// NotifySignal is a no-op where SIGUSR1 does not exist.
func NotifySignal(ctx context.Context, t *Trigger, logger Logger, sigs ...os.Signal) {
	logf(logger, "signal triggers are not supported on this platform")
	<-ctx.Done()
}
