package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/ui"
)

var logAt string

var logCmd = &cobra.Command{
	Use:   "log <item-id>",
	Short: "Log consumption of an item",
	Long: `Record that the current user consumed an item, now or at --at.

Logging is idempotent per (timestamp, user): repeating the same command
with the same --at records nothing new.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		cycleID, err := resolveCycle(s)
		if err != nil {
			return err
		}

		var at time.Time
		if logAt != "" {
			at, err = parseWhen(logAt, time.Now())
			if err != nil {
				return err
			}
		}

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.LogConsumption(opCtx, args[0], cycleID, at); err != nil {
			return err
		}
		fmt.Printf("%s Logged %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var unlogCmd = &cobra.Command{
	Use:   "unlog <item-id>",
	Short: "Remove a consumption entry",
	Long: `Remove the current user's consumption entry with the exact --at
timestamp (seconds precision). Other users' entries are untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if logAt == "" {
			return fmt.Errorf("--at is required for unlog")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		cycleID, err := resolveCycle(s)
		if err != nil {
			return err
		}
		at, err := parseWhen(logAt, time.Now())
		if err != nil {
			return err
		}

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.RemoveConsumption(opCtx, args[0], cycleID, at); err != nil {
			return err
		}
		fmt.Printf("%s Unlogged %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&logAt, "at", "", "timestamp (default: now)")
	unlogCmd.Flags().StringVar(&logAt, "at", "", "timestamp of the entry to remove")
}
