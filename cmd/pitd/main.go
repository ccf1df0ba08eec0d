package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/pit/catalog"
	"github.com/brensch/pit/config"
	"github.com/brensch/pit/dashboard"
	"github.com/brensch/pit/game"
	"github.com/brensch/pit/game/tictactoe"
	"github.com/brensch/pit/lobby"
	"github.com/brensch/pit/logging"
	"github.com/brensch/pit/protocol"
	"github.com/brensch/pit/server"
	"github.com/brensch/pit/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pitd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	flag.StringVar(&cfg.ModelsRoot, "models", cfg.ModelsRoot, "Directory holding <game>/best-checkpoint models")
	flag.StringVar(&cfg.ArchiveDir, "archive-dir", cfg.ArchiveDir, "Write finished sessions as parquet here (disabled when empty)")
	flag.IntVar(&cfg.ArchiveFlush, "archive-flush", cfg.ArchiveFlush, "Sessions per parquet file")
	flag.IntVar(&cfg.Easy, "easy", cfg.Easy, "Simulations per move on easy")
	flag.IntVar(&cfg.Medium, "medium", cfg.Medium, "Simulations per move on medium")
	flag.IntVar(&cfg.Hard, "hard", cfg.Hard, "Simulations per move on hard")
	flag.IntVar(&cfg.BlunderSims, "blunder-sims", cfg.BlunderSims, "Simulations per position when reviewing blunders")
	flag.IntVar(&cfg.Spectators, "spectators", cfg.Spectators, "Spectator seats per lobby (0 = unlimited)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")
	flag.IntVar(&cfg.OnnxSessions, "onnx-sessions", cfg.OnnxSessions, "ONNX Runtime sessions per model")
	flag.IntVar(&cfg.BatchSize, "onnx-batch-size", cfg.BatchSize, "ONNX inference batch size")
	flag.DurationVar(&cfg.BatchTimeout, "onnx-batch-timeout", cfg.BatchTimeout, "Max time to wait for filling an ONNX batch")
	flag.DurationVar(&cfg.WriteTimeout, "ws-write-timeout", cfg.WriteTimeout, "Websocket write deadline")
	flag.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Show the terminal dashboard")
	logFile := flag.String("log-file", "", "Write logs to this file (defaults to pitd.log with -tui, stderr otherwise)")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if *logFile == "" && cfg.TUI {
		*logFile = "pitd.log"
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	log, err := logging.New(out, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	cat, err := catalog.New(cfg.ModelsRoot, catalog.Entry{
		Name:         tictactoe.Name,
		New:          func() game.Game { return tictactoe.New(3) },
		NewEvaluator: catalog.Onnx(cfg.OnnxSessions, cfg.BatchSize, cfg.BatchTimeout),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := cat.Close(); err != nil {
			log.Warn().Err(err).Msg("close evaluators")
		}
	}()
	for _, st := range cat.Status() {
		log.Info().Str("game", st.Name).Str("checkpoint", st.Checkpoint).Bool("available", st.Available).Msg("game registered")
	}

	var archive *store.Writer
	if cfg.ArchiveDir != "" {
		archive, err = store.NewWriter(cfg.ArchiveDir, cfg.ArchiveFlush, log)
		if err != nil {
			return err
		}
	}

	metrics := &protocol.Metrics{}
	machine := protocol.Config{
		Budgets:            protocol.Budgets{Easy: cfg.Easy, Medium: cfg.Medium, Hard: cfg.Hard},
		Cpuct:              cfg.Cpuct,
		BlunderSimulations: cfg.BlunderSims,
		Metrics:            metrics,
		OnFinish:           archiveFunc(archive),
	}
	lobbies := lobby.NewManager(ctx, cat, lobby.Config{
		Spectators: cfg.Spectators,
		Machine:    machine,
		Logger:     log.With().Str("component", "lobby").Logger(),
	})
	defer lobbies.Close()

	srv := server.New(lobbies, cat, server.Options{
		WriteTimeout: cfg.WriteTimeout,
		Logger:       log.With().Str("component", "server").Logger(),
	})
	httpServer := &http.Server{Addr: cfg.Listen, Handler: srv.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Listen).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	// The writer outlives gctx so sessions ending while the lobbies close
	// still reach its final flush.
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(httpServer, lobbies, stopArchive, log)
	})
	if archive != nil {
		g.Go(func() error { return archive.Run(archiveCtx) })
	}
	if cfg.TUI {
		counters := dashboard.Counters{Connections: srv.Connections}
		if archive != nil {
			counters.Archived = archive.Written
		}
		model := dashboard.New(dashboard.Collect(lobbies, metrics, counters), 0)
		g.Go(func() error {
			defer cancel()
			return dashboard.Run(gctx, model)
		})
	}

	return g.Wait()
}

// shutdown stops taking connections, stops every session and only then
// releases the archive writer for its final flush.
func shutdown(httpServer *http.Server, sessions interface{ Close() }, stopArchive context.CancelFunc, log zerolog.Logger) error {
	log.Info().Msg("shutting down")
	defer stopArchive()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		err = httpServer.Close()
	}
	sessions.Close()
	return err
}

// archiveFunc queues every finished session on w.
func archiveFunc(w *store.Writer) func(protocol.Summary) {
	if w == nil {
		return nil
	}
	return func(s protocol.Summary) {
		w.Add(store.NewSessionRow(s.SessionID, s.Game, string(s.Mode), string(s.Difficulty), s.Result, s.History))
	}
}
