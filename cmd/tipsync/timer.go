package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/ui"
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Control the shared treatment timer",
	Long: `Control the treatment timer replicated across every device in the
room. Starting the timer sets its end to now plus the configured
duration; if another device started a longer-running timer, the later
end wins everywhere.`,
}

var timerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		end := time.Now().Add(s.engine.TreatmentTimerDuration())

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.SetTreatmentTimerEnd(opCtx, &end); err != nil {
			return err
		}
		fmt.Printf("%s Timer running until %s\n", ui.RenderPass("✓"), end.Local().Format("15:04:05"))
		return nil
	},
}

var timerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop and clear the timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.SetTreatmentTimerEnd(opCtx, nil); err != nil {
			return err
		}
		fmt.Printf("%s Timer cleared\n", ui.RenderPass("✓"))
		return nil
	},
}

var timerDurationCmd = &cobra.Command{
	Use:   "duration <duration>",
	Short: "Set the timer duration (e.g. 15m, 900s)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.SetTreatmentTimerDuration(opCtx, d); err != nil {
			return err
		}
		fmt.Printf("%s Timer duration set to %s\n", ui.RenderPass("✓"), d)
		return nil
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		end := s.engine.TreatmentTimerEnd()
		if end == nil {
			fmt.Printf("Timer idle (duration %s)\n", s.engine.TreatmentTimerDuration())
			return nil
		}
		remaining := time.Until(*end).Round(time.Second)
		if remaining <= 0 {
			fmt.Printf("%s Timer finished at %s\n", ui.RenderPass("✓"), end.Local().Format("15:04:05"))
			return nil
		}
		fmt.Printf("%s remaining (until %s)\n", remaining, end.Local().Format("15:04:05"))
		return nil
	},
}

func init() {
	timerCmd.AddCommand(timerStartCmd)
	timerCmd.AddCommand(timerStopCmd)
	timerCmd.AddCommand(timerDurationCmd)
	timerCmd.AddCommand(timerStatusCmd)
}
