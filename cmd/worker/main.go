// Command worker is the minimal process entry point for the worker
// core: it wires configuration, structured logging, the Query Manager,
// and an in-process WorkerService. It is deliberately not a network
// listener (spec §6: "wire format delegated") — a real deployment
// embeds internal/rpc.Server behind whatever transport the surrounding
// system chooses.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nebulastream/worker-core/internal/logging"
	"github.com/nebulastream/worker-core/internal/querymanager"
	"github.com/nebulastream/worker-core/internal/rpc"
)

func main() {
	log := logging.New(os.Stderr, slog.LevelInfo)

	manager := querymanager.New(querymanager.WithLogger(log))
	manager.SetStatusListener(querymanager.StatusListenerFunc(func(e querymanager.StatusEvent) {
		logging.WithFields(log, e.QueryID, e.DecomposedID, "querymanager").
			Str("status", e.Status.String()).
			Str("reason", e.Reason).
			Log("query status changed")
	}))

	registry := rpc.NewRegistry()
	_ = rpc.NewServer(manager, registry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = manager.Shutdown(shutdownCtx)
}
