package consoletest

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/consoletest/consoletest/internal/logger"
)

const maxInterruptSignals = 3

// InterceptInterruptSignals catches SIGINT and SIGTERM so the consoletest
// process is not killed immediately: the first signal cancels the run,
// giving daemons, containers and activations time to be torn down. A third
// signal forces shutdown.
func (e *Executor) InterceptInterruptSignals(cancel context.CancelFunc) {
	ch := make(chan os.Signal, maxInterruptSignals)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		for i := range maxInterruptSignals {
			sig := <-ch

			if i+1 >= maxInterruptSignals {
				e.Logger.Errf(logger.Red, "consoletest: Signal received for the third time: %q. Forcing shutdown", sig)
				os.Exit(1)
			}

			e.Logger.Outf(logger.Yellow, "consoletest: Signal received: %q", sig)
			cancel()
		}
	}()
}
