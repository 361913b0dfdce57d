//go:build unix

package trigger

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// NotifySignal requests a sync each time one of sigs arrives (SIGUSR1 when
// none are given). It blocks until ctx is done.
func NotifySignal(ctx context.Context, t *Trigger, logger Logger, sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{unix.SIGUSR1}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			if t.Request() {
				logf(logger, "sync requested via %s", sig)
			}
		}
	}
}
