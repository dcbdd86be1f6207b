// Command krsctl runs operational tasks against the KRS database and Redis.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/pkg/cache"
	"github.com/noah-isme/krs-api/pkg/config"
	"github.com/noah-isme/krs-api/pkg/logger"
)

var (
	cfg  *config.Config
	logr *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "krsctl",
	Short:         "Operational tooling for the KRS service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logr, err = logger.New(cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, lockCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func redisClient(ctx context.Context) (*redis.Client, error) {
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
