package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/krs-api/internal/repository"
	"github.com/noah-isme/krs-api/internal/service"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached reference data",
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop the cached active period and offered section catalog",
	Long: `Drop the cached active period and offered section catalog.

Run this after changing academic periods or offered sections directly in the
database. Running API instances keep their in-process period copy until it
expires.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := redisClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		caches := service.NewCacheService(repository.NewCacheRepository(client, logr), nil, 0, logr, true)
		if err := caches.Delete(cmd.Context(), service.CurrentPeriodCacheKey); err != nil {
			return err
		}
		if err := caches.Invalidate(cmd.Context(), service.OfferedCachePattern); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cache flushed")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheFlushCmd)
}
