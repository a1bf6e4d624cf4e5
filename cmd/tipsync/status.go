package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync and schedule status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()
		eng := s.engine

		fmt.Printf("\n%s tipsync status\n\n", ui.RenderAccent("📊"))

		if room := eng.RoomCode(); room != "" {
			fmt.Printf("  Room:        %s (%s)\n", room, s.cfg.ServerURL)
		} else if s.cfg.RoomCode != "" {
			fmt.Printf("  Room:        %s %s\n", s.cfg.RoomCode, ui.RenderWarn("(server unreachable, cached state)"))
		} else {
			fmt.Printf("  Room:        %s\n", ui.RenderDim("not configured"))
		}

		fmt.Printf("  Cache:       %s\n", s.cache.Path())

		if u := eng.CurrentUser(); u != nil {
			role := "member"
			if u.IsAdmin {
				role = "admin"
			}
			fmt.Printf("  User:        %s (%s)\n", u.Name, role)
		} else {
			fmt.Printf("  User:        %s\n", ui.RenderWarn("none selected"))
		}

		cycles := eng.Cycles()
		fmt.Printf("  Cycles:      %d\n", len(cycles))
		if current := eng.CurrentCycleID(); current != "" {
			items := eng.Items(current)
			logged := 0
			for _, it := range items {
				if len(eng.ConsumptionEntries(current, it.ID)) > 0 {
					logged++
				}
			}
			fmt.Printf("  Current:     %s (%d items, %d logged today)\n",
				cycles[len(cycles)-1].PatientName, len(items), logged)
		}

		if end := eng.TreatmentTimerEnd(); end != nil {
			remaining := time.Until(*end).Round(time.Second)
			if remaining > 0 {
				fmt.Printf("  Timer:       %s remaining\n", remaining)
			} else {
				fmt.Printf("  Timer:       %s\n", ui.RenderPass("done"))
			}
		}

		if syncErr := eng.SyncError(); syncErr != "" {
			fmt.Printf("\n%s %s\n", ui.RenderFail("✗"), syncErr)
		} else if eng.RoomCode() != "" {
			fmt.Printf("\n%s In sync\n", ui.RenderPass("✓"))
		}
		fmt.Println()
		return nil
	},
}
