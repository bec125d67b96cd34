package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-cat/internal/cat"
	"github.com/mind-engage/mindengage-cat/internal/config"
	"github.com/mind-engage/mindengage-cat/internal/db"
	"github.com/mind-engage/mindengage-cat/internal/irt"
	"github.com/mind-engage/mindengage-cat/internal/lock"
	"github.com/mind-engage/mindengage-cat/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "catd",
	Short:         "Adaptive testing engine (3PL IRT)",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (overrides CAT_CONFIG)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(simulateCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func openStore(ctx context.Context, cfg config.Config) (*cat.SQLStore, *sql.DB, error) {
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db open failed: %w", err)
	}
	return cat.NewSQLStore(conn), conn, nil
}

// newLocker returns a redis lock when REDIS_ADDR is configured so several
// catd processes can share one database. The returned close is never nil.
func newLocker(ctx context.Context, cfg config.Config, log *logger.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}
	rdb, err := lock.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	log.Info("using redis ability lock", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	return lock.NewRedisLocker(rdb, cfg.LockTTL), func() { _ = rdb.Close() }, nil
}

func newEngine(cfg config.Config, bank cat.QuestionBank, st cat.Store, locker lock.Locker, log *logger.Logger) *cat.Engine {
	alpha := cfg.SmoothingAlpha
	return cat.NewEngine(bank, st, st, cat.Options{
		SmoothingAlpha: &alpha,
		Selector:       irt.NewSelector(cfg.SelectTopK, nil),
		Locker:         locker,
		Logger:         log.With("component", "engine"),
	})
}
