package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kiliankoe/chartrecall/internal/api"
	"github.com/kiliankoe/chartrecall/internal/config"
	"github.com/kiliankoe/chartrecall/internal/experiment"
	"github.com/kiliankoe/chartrecall/internal/logging"
	"github.com/kiliankoe/chartrecall/internal/stimulus"
	"github.com/kiliankoe/chartrecall/internal/store"
	"github.com/kiliankoe/chartrecall/internal/ws"
	staticserver "github.com/kiliankoe/chartrecall/static"
)

const pruneEvery = 5 * time.Minute

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closer, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	// Fail early on a broken stimulus file instead of on the first
	// participant.
	cat, err := stimulus.LoadCached(cfg.StimuliFile)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.StimuliFile).Msg("cannot load stimuli")
		return err
	}
	charts, err := loadCharts(cfg)
	if err != nil {
		return err
	}

	files := store.NewFileStore(cfg.ResultsDir)
	sinks := []experiment.Sink{files}
	if cfg.DatabasePath != "" {
		db, err := store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.DatabasePath).Msg("cannot open database")
			return err
		}
		defer db.Close()
		sinks = append(sinks, db)
	}

	m := experiment.NewManager(experiment.ManagerOptions{
		Catalog:  func() (*stimulus.Catalog, error) { return stimulus.LoadCached(cfg.StimuliFile) },
		Timing:   cfg.Timing(),
		Exporter: experiment.NewExporter(sinks...),
		Assets:   api.DirAssets{ImagesDir: cfg.ImagesDir, Charts: charts},
	})

	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	sock := ws.New(m)
	r := api.NewRouter(api.Deps{
		Config:   cfg,
		Manager:  m,
		Charts:   charts,
		Files:    files,
		Notifier: sock,
		Static:   staticserver.Handler(),
	})
	io := sock.Mount(r)
	defer io.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go prune(ctx, m, cfg.Retention())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Int("stimuli", len(cat.Rows)).
			Int("display_seconds", cfg.DisplaySeconds).
			Int("question_seconds", cfg.QuestionSeconds).
			Bool("dev", cfg.DevMode).
			Bool("admin", cfg.AdminEnabled()).
			Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
		}
	}
	return nil
}

func loadCharts(cfg config.Config) (*stimulus.ChartDataset, error) {
	if cfg.ChartDataFile == "" {
		return nil, nil
	}
	charts, err := stimulus.LoadChartData(cfg.ChartDataFile)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.ChartDataFile).Msg("cannot load chart data")
		return nil, err
	}
	return charts, nil
}

// prune drops finished sessions older than retention until ctx ends.
func prune(ctx context.Context, m *experiment.Manager, retention time.Duration) {
	if retention <= 0 {
		return
	}
	t := time.NewTicker(pruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Prune(now.Add(-retention)); n > 0 {
				log.Info().Int("removed", n).Int("live", m.Count()).Msg("pruned finished sessions")
			}
		}
	}
}
