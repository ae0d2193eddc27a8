package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"Go2TopTalk/internal/api"
	"Go2TopTalk/internal/capture"
	"Go2TopTalk/internal/config"
	"Go2TopTalk/internal/engine/manager"
	"Go2TopTalk/internal/engine/scheduler"
	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/publish"
	"Go2TopTalk/internal/query"
	"Go2TopTalk/internal/storage"
)

func newRunCommand() *cobra.Command {
	var (
		configPath string
		iface      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture live traffic, publish per-interval top talkers and serve the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if iface != "" {
				cfg.Capture.Interface = iface
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the YAML configuration file")
	cmd.Flags().StringVarP(&iface, "interface", "i", "", "Capture interface, overrides capture.interface")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("toptalk")

	periods, err := cfg.Engine.Periods()
	if err != nil {
		return err
	}
	if _, err := scheduler.NewPlan(periods); err != nil {
		log.WithError(err).WithField("intervals", cfg.Engine.Intervals).Fatal("invalid interval configuration")
	}
	maxAge, err := cfg.Engine.MaxAge()
	if err != nil {
		return err
	}
	refresh, err := cfg.Engine.Refresh()
	if err != nil {
		return err
	}

	publishers, db, err := openPublishers(ctx, cfg.Publish)
	if err != nil {
		return err
	}
	var querier query.Querier
	if db != nil {
		querier = query.NewClickHouseQuerier(db)
	}

	m, err := manager.New(manager.Options{
		Periods:    periods,
		MaxAge:     maxAge,
		Refresh:    refresh,
		OpenSource: capture.Factory(cfg.Capture),
		Publishers: publishers,
	})
	if err != nil {
		for _, p := range publishers {
			_ = p.Close()
		}
		return err
	}
	defer m.Stop()

	if cfg.Capture.Interface != "" {
		if err := m.RestartCapture(cfg.Capture.Interface); err != nil {
			return err
		}
	} else {
		log.Warn("no capture interface configured, waiting for a restart request")
	}
	if err := m.StartScheduler(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"intervals":  cfg.Engine.Intervals,
		"window":     maxAge,
		"publishers": len(publishers),
	}).Info("toptalk running")

	server := api.NewServer(cfg.API, api.NewService(m, querier, periods))
	if err := server.Run(ctx); err != nil {
		return err
	}
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openPublishers connects every enabled publisher. The returned database is
// shared with the history querier and is closed by the ClickHouse writer.
func openPublishers(ctx context.Context, cfg config.PublishConfig) ([]publish.Publisher, *sql.DB, error) {
	var (
		publishers []publish.Publisher
		db         *sql.DB
	)
	closeAll := func() {
		for _, p := range publishers {
			_ = p.Close()
		}
	}

	if cfg.NATS.Enabled {
		p, err := publish.NewNATSPublisher(ctx, cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		publishers = append(publishers, p)
	}

	if cfg.ClickHouse.Enabled {
		commit, err := time.ParseDuration(cfg.ClickHouse.CommitInterval)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid clickhouse commit interval: %w", err)
		}
		db, err = storage.OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		w := publish.NewClickHouseWriter(db, commit, cfg.ClickHouse.QueueSize)
		w.Start()
		publishers = append(publishers, w)
	}
	return publishers, db, nil
}
