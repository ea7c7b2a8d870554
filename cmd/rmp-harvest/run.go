package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
	"github.com/Sternrassler/rmp-harvest/pkg/collector"
	"github.com/Sternrassler/rmp-harvest/pkg/dedup"
	"github.com/Sternrassler/rmp-harvest/pkg/harvest"
	"github.com/Sternrassler/rmp-harvest/pkg/logging"
	"github.com/Sternrassler/rmp-harvest/pkg/metrics"
	"github.com/Sternrassler/rmp-harvest/pkg/pagination"
	"github.com/Sternrassler/rmp-harvest/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// session is the wiring shared by both harvest commands.
type session struct {
	cfg    appConfig
	runID  string
	logger zerolog.Logger
	stderr io.Writer

	redis     *redis.Client
	cooldown  *ratelimit.Controller
	client    *client.Client
	collector *collector.Collector
	harvester *harvest.Harvester

	stopMetrics func()
}

// openSession resolves the configuration and builds the client, the
// cool-down controller, the collector and the harvester.
func openSession(ctx context.Context, cmd *cobra.Command, v *viper.Viper) (*session, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	cfg.Log.Output = cmd.ErrOrStderr()

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logging.Setup(cfg.Log)
	logger := logging.WithRun(logging.NewLogger("harvest"), runID)
	componentLogger := func(name string) zerolog.Logger {
		return logging.WithRun(logging.NewLogger(name), runID)
	}
	s := &session{cfg: cfg, runID: runID, logger: logger, stderr: cmd.ErrOrStderr()}

	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
	}

	s.cooldown = ratelimit.NewController(ratelimit.Config{
		Policies: cfg.Cooldown,
		Redis:    s.redis,
	}, componentLogger("cooldown"))

	if s.client, err = client.New(cfg.Client); err != nil {
		s.Close()
		return nil, err
	}

	seen, err := dedup.New(dedup.Config{
		Backend:    cfg.DedupBackend,
		RunID:      runID,
		Redis:      s.redis,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open dedup set: %w", err)
	}
	s.collector = collector.New(seen, componentLogger("collector"))

	if s.harvester, err = harvest.New(cfg.Harvest, s.client, s.cooldown, logger); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr, componentLogger("metrics"))
		if err != nil {
			s.Close()
			return nil, err
		}
		mctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(mctx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		s.stopMetrics = func() {
			cancel()
			<-done
		}
	}

	logger.Info().
		Str("base_url", cfg.Client.BaseURL).
		Int("workers", cfg.Harvest.Workers).
		Int("batch_size", cfg.Harvest.BatchSize).
		Str("dedup", cfg.DedupBackend).
		Bool("shared_cooldown", s.redis != nil).
		Msg("Session ready")

	return s, nil
}

// progress returns the dispatcher callback, or nil when progress output is off.
func (s *session) progress() pagination.Progress {
	if !s.cfg.Progress {
		return nil
	}
	return func(done, total int, last pagination.Outcome) {
		status := "ok"
		if last.Failed() {
			status = string(last.Err.Class)
		}
		fmt.Fprintf(s.stderr, "\r%d/%d %s %s", done, total, last.Key, status)
		if done == total {
			fmt.Fprintln(s.stderr)
		}
	}
}

// finish writes the collected rows and the failed items, then prints the
// summary line. The rows are written even when ctx is already cancelled.
func (s *session) finish(ctx context.Context, res *harvest.Result, out string, lead []string) error {
	write := func(w io.Writer) error {
		return s.collector.WriteCSV(context.WithoutCancel(ctx), w, lead...)
	}
	if err := writeFileAtomic(out, write); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	if s.cfg.FailedOut != "" && len(res.Failed) > 0 {
		err := writeFileAtomic(s.cfg.FailedOut, func(w io.Writer) error {
			return harvest.WriteItems(w, res.Failed)
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", s.cfg.FailedOut, err)
		}
	}

	fmt.Fprintf(s.stderr, "%s: %d rows, %d duplicates dropped, %d failed, %s\n",
		res.Job, s.collector.Len(), res.Duplicates, len(res.Failed), res.Duration.Round(time.Millisecond))
	for i, item := range res.Failed {
		if i < len(res.Errors) && res.Errors[i] != nil {
			s.logger.Debug().Str("item", item.ID).Err(res.Errors[i]).Msg("Failed item")
		}
	}
	return nil
}

// Close releases everything the session opened.
func (s *session) Close() {
	if s.stopMetrics != nil {
		s.stopMetrics()
	}
	if s.collector != nil {
		if err := s.collector.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close dedup set")
		}
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// writeFileAtomic writes path through a temporary file in the same
// directory that is renamed into place once complete.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
