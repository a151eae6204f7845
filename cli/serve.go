package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	chatotel "github.com/waveline-labs/chatflow/otel"
	"github.com/waveline-labs/chatflow/server"
	"github.com/waveline-labs/chatflow/sim"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the flow builder HTTP API server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (empty = in-memory stores)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "Broadcast schedule poll interval")
	cmd.Flags().String("otel-endpoint", "", "OTLP/HTTP trace endpoint (empty = tracing disabled)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	schedulePoll, _ := cmd.Flags().GetDuration("schedule-poll")
	otelEndpoint, _ := cmd.Flags().GetString("otel-endpoint")

	logger := slog.Default()

	flows, schedules, closeStores, err := resolveServeStores(cmd)
	if err != nil {
		return err
	}
	defer closeStores()

	events, shutdownOtel, err := buildSessionObservers(cmd.Context(), otelEndpoint)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer shutdownOtel()

	srv := server.NewServer(server.Config{
		Store:      flows,
		Schedules:  schedules,
		Sessions:   server.NewSessionService(events),
		CORSOrigin: corsOrigin,
		MaxBody:    maxBody,
		Logger:     logger,
	})

	scheduler, err := server.NewScheduler(server.SchedulerConfig{
		Flows:        flows,
		Schedules:    schedules,
		PollInterval: schedulePoll,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating broadcast scheduler: %w", err)
	}
	scheduler.Start()
	defer func() {
		_ = scheduler.Stop(context.Background())
	}()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "chatflow listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// resolveServeStores picks SQLite or in-memory storage based on flags.
func resolveServeStores(cmd *cobra.Command) (server.FlowStore, server.ScheduleStore, func(), error) {
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	dsn := strings.TrimSpace(sqlitePath)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("CHATFLOW_SQLITE_PATH"))
	}
	if dsn == "" {
		return server.NewMemoryStore(), server.NewMemoryScheduleStore(), func() {}, nil
	}

	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = filepath.Clean(dsn)
	}
	store, err := server.NewSQLiteStore(server.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	return store, store, func() { _ = store.Close() }, nil
}

// buildSessionObservers wires tracing and metrics handlers into one
// simulator event handler. When no OTLP endpoint is given, spans go to
// the global (noop by default) tracer provider.
func buildSessionObservers(ctx context.Context, otelEndpoint string) (sim.EventHandler, func(), error) {
	shutdown := func() {}

	tracerProvider := otelapi.GetTracerProvider()
	if otelEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otelEndpoint))
		if err != nil {
			return nil, nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otelapi.SetTracerProvider(tp)
		tracerProvider = tp
		shutdown = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}
	}

	tracing := chatotel.NewTracingHandler(tracerProvider.Tracer("chatflow/sim"))
	metrics, err := chatotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("chatflow/sim"))
	if err != nil {
		shutdown()
		return nil, nil, err
	}

	return sim.MultiEventHandler(tracing.Handle, metrics.Handle), shutdown, nil
}
