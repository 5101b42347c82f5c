// superagent is the headless execution core. It runs one goal from the
// command line or reads inputs line by line from stdin, emitting NDJSON
// protocol events on stdout. Logs go to stderr.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	superagent "github.com/superagent-core/superagent"
	"github.com/superagent-core/superagent/internal/app"
	"github.com/superagent-core/superagent/internal/config"
	"github.com/superagent-core/superagent/mcp"
)

// version is stamped by the build.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "superagent:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("SUPERAGENT_CONFIG"), "path to superagent.toml")
		goal       = flag.String("goal", "", "execute one goal and exit")
		sessionID  = flag.String("session", "", "session id to resume")
		mcpMode    = flag.Bool("mcp", false, "serve registered tools over MCP stdio instead of the input loop")
		verbose    = flag.Bool("verbose", false, "debug logging on stderr")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appOpts := []app.Option{app.WithLogger(logger)}
	var sink superagent.EventSink
	if !*mcpMode {
		sink = superagent.NewNDJSONSink(os.Stdout)
		appOpts = append(appOpts, app.WithSink(sink))
	}

	application, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return err
	}
	defer application.Close(context.Background())

	if err := application.Start(ctx); err != nil {
		return err
	}

	rt := application.Runtime()
	if *mcpMode {
		// MCP owns stdio, so no NDJSON loop in this mode.
		srv := mcp.New("superagent", version, mcp.WithServerLogger(logger))
		for _, h := range mcp.FromRegistry(rt.Tools()) {
			srv.AddTool(h)
		}
		return srv.Serve(ctx)
	}

	session, restored := openSession(rt, cfg, *sessionID)
	emitter := superagent.NewEmitter(sink, session.SessionID)
	event := superagent.ProtoSessionStarted
	if restored {
		event = superagent.ProtoSessionRestored
	}
	emitter.Emit(event, "", map[string]any{"model": session.Model})

	defer func() {
		emitter.Emit(superagent.ProtoMetricsTick, "", map[string]any{
			"metrics": rt.Counters().Snapshot(),
		})
	}()

	if *goal != "" {
		return runGoal(ctx, rt, emitter, *goal, session.SessionID)
	}
	return runLoop(ctx, rt, cfg, emitter, session)
}

// openSession resumes the named session or starts a fresh one.
func openSession(rt *superagent.Runtime, cfg config.Config, id string) (*superagent.Session, bool) {
	if id != "" {
		if sess, err := rt.Sessions().Load(id); err == nil {
			return sess, true
		}
	}
	sess := superagent.NewSession(cfg.UX.DefaultModel)
	if id != "" {
		sess.SessionID = id
	}
	return sess, false
}

// runGoal executes one goal through the orchestrator and maps the outcome
// to the process exit status.
func runGoal(ctx context.Context, rt *superagent.Runtime, emitter *superagent.Emitter, goal, sessionID string) error {
	res := rt.ExecuteGoal(ctx, goal, sessionID)
	if res.Status != superagent.GoalCompleted {
		if res.Status == superagent.GoalCancelled {
			emitter.Emit(superagent.ProtoUserCancel, res.CorrelationID, nil)
		}
		return fmt.Errorf("goal %s: %s", res.Status, res.Error)
	}
	return nil
}

// runLoop reads inputs from stdin, one per line, and drives each through
// the diff-first pipeline. Headless operation confirms every plan; consent
// decisions belong to the caller supplying the input stream.
func runLoop(ctx context.Context, rt *superagent.Runtime, cfg config.Config, emitter *superagent.Emitter, session *superagent.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			emitter.Emit(superagent.ProtoUserCancel, "", nil)
			return ctx.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		uc := rt.UX().ProcessInput(ctx, input, session.SessionID, nil)
		if uc.Err != nil {
			continue // already emitted as an error event
		}
		uc, err := rt.UX().ExecutePlan(ctx, false, nil)
		if err != nil {
			continue
		}

		session.Append(superagent.Message{Role: "user", Content: input, Timestamp: time.Now().Unix()})
		if uc.Result != nil {
			session.Append(superagent.Message{Role: "assistant", Content: uc.Result.Output, Timestamp: time.Now().Unix()})
		}
		if cfg.UX.AutoSave {
			if err := rt.Sessions().Save(session); err != nil {
				emitter.EmitError("", err, true)
			}
		}
	}
	return scanner.Err()
}
