// Package social parses social service flags and launches the service.
package social

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/bliss/internal/platform/cmd"
	server "github.com/louisbranch/bliss/internal/services/social/app"
)

// Config holds social command configuration.
type Config struct {
	Port              int    `env:"BLISS_SOCIAL_PORT" envDefault:"8091"`
	Store             string `env:"BLISS_SOCIAL_STORE" envDefault:"sqlite"`
	DBPath            string `env:"BLISS_SOCIAL_DB_PATH" envDefault:"data/social.db"`
	FirestoreProject  string `env:"BLISS_SOCIAL_FIRESTORE_PROJECT"`
	ReconcileSchedule string `env:"BLISS_SOCIAL_RECONCILE_SCHEDULE" envDefault:"@hourly"`
	MetricsAddr       string `env:"BLISS_SOCIAL_METRICS_ADDR"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The social gRPC server port")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Document store backend: sqlite, firestore, or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listener address (empty disables)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the social gRPC API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSocial, func(ctx context.Context) error {
		srv, err := server.New(ctx, server.Options{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Store:             cfg.Store,
			DBPath:            cfg.DBPath,
			FirestoreProject:  cfg.FirestoreProject,
			ReconcileSchedule: cfg.ReconcileSchedule,
			MetricsAddr:       cfg.MetricsAddr,
		})
		if err != nil {
			return err
		}
		return srv.Serve(ctx)
	})
}
