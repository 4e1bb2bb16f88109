package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/llmchat"
	"github.com/petal-labs/nodeflow/loader"
	"github.com/petal-labs/nodeflow/nodeset"
	"github.com/petal-labs/nodeflow/obs"
	"github.com/petal-labs/nodeflow/queue"
	"github.com/petal-labs/nodeflow/toolnodes"
	"github.com/petal-labs/nodeflow/toolregistry"
	"github.com/petal-labs/nodeflow/transport"
	"github.com/petal-labs/nodeflow/wire"
)

// Recurring-runner exit codes.
const (
	exitSuccess      = 0
	exitGraphFileErr = 1
)

// quietPeriod is how long the runner waits for a run's frames to go idle
// before considering that run complete.
const quietPeriod = 60 * time.Second

// NewRunCmd creates the recurring-runner "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a graph on a recurring schedule",
		RunE:  runRecurring,
	}

	cmd.Flags().String("graph", "", "Path to a graph description file (YAML or JSON)")
	cmd.Flags().String("interval", "15m", "Recurrence interval: 5m, 15m, 30m, 1h, or 1d")
	cmd.Flags().String("host", "127.0.0.1", "Transport host (accepted for interface fidelity; this runner drives the engine in-process)")
	cmd.Flags().Int("port", 0, "Transport port (accepted for interface fidelity; unused by the in-process runner)")
	cmd.Flags().Int("runs", 0, "Number of recurring submissions to perform; 0 means run forever")
	cmd.Flags().String("otel-endpoint", "", "OTLP/HTTP collector endpoint (host:port) for span export; tracing is disabled if unset")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

func runRecurring(cmd *cobra.Command, args []string) error {
	graphPath, _ := cmd.Flags().GetString("graph")
	intervalName, _ := cmd.Flags().GetString("interval")
	runs, _ := cmd.Flags().GetInt("runs")
	otelEndpoint, _ := cmd.Flags().GetString("otel-endpoint")

	gd, err := loader.LoadGraph(graphPath)
	if err != nil {
		return exitError(exitGraphFileErr, "loading graph file: %v", err)
	}

	cat := buildCatalog()
	if err := loader.ValidateAgainstCatalog(gd, cat); err != nil {
		return exitError(exitGraphFileErr, "%v", err)
	}

	schedule, err := parseInterval(intervalName)
	if err != nil {
		return exitError(exitGraphFileErr, "%v", err)
	}

	ctx := cmd.Context()
	emit, shutdownTracing, err := buildEventEmitter(ctx, otelEndpoint)
	if err != nil {
		return exitError(exitGraphFileErr, "setting up tracing: %v", err)
	}
	defer shutdownTracing()

	q := queue.New(emit)
	worker := queue.NewWorker(q, cat, emit)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Run(workerCtx)

	for i := 0; runs == 0 || i < runs; i++ {
		if err := submitAndWait(ctx, q, gd, cmd); err != nil {
			return err
		}
		if runs != 0 && i == runs-1 {
			break
		}

		wait := nextRun(schedule, time.Now()).Sub(time.Now().UTC())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
	return nil
}

func submitAndWait(ctx context.Context, q *queue.Queue, gd core.GraphDescription, cmd *cobra.Command) error {
	session := transport.NewLocal(ctx)
	defer session.Close()

	queue.Submit(q, session, gd)

	idle := time.NewTimer(quietPeriod)
	defer idle.Stop()

	for {
		select {
		case msg, ok := <-session.Frames():
			if !ok {
				return nil
			}
			printFrame(cmd, msg)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(quietPeriod)
			if isTerminalStatus(msg) {
				return nil
			}
		case <-idle.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func printFrame(cmd *cobra.Command, msg wire.Message) {
	switch msg.Type {
	case "status":
		fmt.Fprintln(cmd.OutOrStdout(), msg.Message)
	case "error":
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", msg.Message)
	}
}

func isTerminalStatus(msg wire.Message) bool {
	if msg.Type == "error" {
		return true
	}
	switch msg.Message {
	case wire.StatusBatchFinished, wire.StatusStreamFinished, wire.StatusStopped:
		return true
	}
	return false
}

// buildEventEmitter wires run/node/tool events into an OTLP/HTTP tracer when
// otelEndpoint is set, otherwise returns a nil emitter (events are simply
// dropped, as queue.New and queue.NewWorker already tolerate). The returned
// shutdown func flushes and closes the tracer provider; it is always safe
// to call, even when tracing was never enabled.
func buildEventEmitter(ctx context.Context, otelEndpoint string) (core.EventEmitter, func(), error) {
	noop := func() {}
	if otelEndpoint == "" {
		return nil, noop, nil
	}
	tp, err := obs.NewOTLPTracerProvider(ctx, otelEndpoint)
	if err != nil {
		return nil, noop, err
	}
	handler := obs.NewTracingHandler(tp.Tracer("nodeflow"))
	shutdown := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("tracer provider shutdown failed", "error", err)
		}
	}
	return core.EventEmitter(handler.Handle), shutdown, nil
}

// buildCatalog wires the default node catalog: the built-in node types plus
// the llm_chat node backed by a tool registry seeded with built-ins and an
// Ollama-shaped backend client.
func buildCatalog() *catalog.Catalog {
	cat := catalog.New()
	nodeset.RegisterAll(cat)
	registry := toolregistry.NewWithBuiltins()
	attachPersistentStore(registry)
	backend := llmchat.NewOllamaBackend(2 * time.Minute)
	llmchat.Register(cat, registry, backend)
	toolnodes.Register(cat, registry)
	return cat
}

// attachPersistentStore wires a SQLite-backed store so tool schemas and
// credential names registered this run survive process restarts. A failure
// to open the store (no home directory, permission error) is non-fatal: the
// registry just stays in-memory-only for this run.
func attachPersistentStore(registry *toolregistry.Registry) {
	store, err := toolregistry.NewDefaultSQLiteStore()
	if err != nil {
		slog.Warn("tool registry persistence disabled", "error", err)
		return
	}
	if err := registry.LoadFromStore(context.Background(), store); err != nil {
		slog.Warn("failed to load persisted tool registrations", "error", err)
	}
	registry.AttachStore(store)
}
