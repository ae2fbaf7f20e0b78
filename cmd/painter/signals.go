package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// errInterrupted is the cancellation cause recorded when the user presses
// Ctrl-C.
var errInterrupted = errors.New("interrupted")

// signalContext returns a context cancelled on the first SIGINT or SIGTERM.
// The pipeline stops at its next safe point and still writes results; a
// second signal exits immediately.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("Stopping after the current call, press Ctrl-C again to quit now")
			cancel(errInterrupted)
		case <-done:
			return
		}
		select {
		case <-sigChan:
			log.Warn().Msg("Interrupted twice, exiting")
			os.Exit(130)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel(nil)
	}
}
