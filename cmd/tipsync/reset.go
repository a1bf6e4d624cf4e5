package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/ui"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Run the daily reset",
	Long: `Prune today's consumption entries, un-collapse every category, and
clear an expired treatment timer. Runs automatically once per calendar
day; --force runs it regardless of the last reset date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if resetForce {
			err = s.engine.ResetDaily(opCtx)
		} else {
			err = s.engine.CheckAndResetIfNeeded(opCtx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s Daily reset done\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "reset even if already reset today")
}
