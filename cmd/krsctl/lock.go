package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/krs-api/internal/service"
	"github.com/noah-isme/krs-api/pkg/lock"
)

var releaseToken string

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect section leases",
}

var lockInfoCmd = &cobra.Command{
	Use:   "info SECTION_ID",
	Short: "Show the holder of a section lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := redisClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		key := service.SectionLockKey(args[0])
		info, err := lock.NewManager(client, logr).Info(cmd.Context(), key)
		if err != nil {
			return err
		}
		if !info.Exists {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is free\n", key)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s owner=%s ttl=%s\n", key, info.Owner, info.TTL)
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release SECTION_ID",
	Short: "Release a stuck section lease held by --token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if releaseToken == "" {
			return fmt.Errorf("--token is required")
		}
		client, err := redisClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		key := service.SectionLockKey(args[0])
		released, err := lock.NewManager(client, logr).Release(cmd.Context(), key, releaseToken)
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("%s is not held by the given token", key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s released\n", key)
		return nil
	},
}

func init() {
	lockReleaseCmd.Flags().StringVar(&releaseToken, "token", "", "owner token printed by lock info")
	lockCmd.AddCommand(lockInfoCmd, lockReleaseCmd)
}
