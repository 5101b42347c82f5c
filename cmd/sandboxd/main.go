// sandboxd is the sandbox sidecar: a small HTTP service that executes
// code in subprocesses on behalf of a superagent process, bridging tool
// calls back over the caller's callback URL. Run it in its own container
// when subprocess isolation on the main host is not enough.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/superagent-core/superagent/sandbox"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sandboxd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr      = flag.String("addr", ":9000", "listen address")
		workspace = flag.String("workspace", "", "fixed workspace directory (default: per-session temp dirs)")
		pythonBin = flag.String("python", "python3", "python interpreter")
		timeout   = flag.Duration("timeout", 30*time.Second, "default execution timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	opts := []sandbox.Option{sandbox.WithTimeout(*timeout)}
	if *workspace != "" {
		opts = append(opts, sandbox.WithWorkspace(*workspace))
	}
	runner := sandbox.NewSubprocessRunner(*pythonBin, opts...)
	service := sandbox.NewService(runner, sandbox.ServiceLogger(logger))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           service.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("sandboxd listening", "addr", *addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("sandboxd stopped")
	return nil
}
