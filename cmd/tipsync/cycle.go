package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/model"
	"tipsync/internal/ui"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Manage treatment cycles",
}

var (
	cycleAddName     string
	cycleAddNumber   int
	cycleAddStart    string
	cycleAddFood     string
	cycleAddCopyFrom string
)

var cycleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new cycle",
	Long: `Create a new treatment cycle in the room.

By default the previous cycle's items are copied into the new cycle as
a starting point (fresh identities, same doses and ordering). Use
--copy-from to copy a specific cycle instead.

Requires an admin user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		cycle := model.Cycle{
			ID:          model.NewID(),
			Number:      cycleAddNumber,
			PatientName: cycleAddName,
		}
		if cycleAddStart != "" {
			t, err := parseWhen(cycleAddStart, time.Now())
			if err != nil {
				return err
			}
			cycle.StartDate = t
		} else {
			cycle.StartDate = time.Now()
		}
		if cycleAddFood != "" {
			t, err := parseWhen(cycleAddFood, cycle.StartDate)
			if err != nil {
				return err
			}
			cycle.FoodChallengeDate = t
		} else {
			// Food challenge defaults to the end of an eight-week cycle.
			cycle.FoodChallengeDate = cycle.StartDate.AddDate(0, 0, 8*7)
		}
		if cycle.Number == 0 {
			cycle.Number = len(s.engine.Cycles()) + 1
		}

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.AddCycle(opCtx, cycle, cycleAddCopyFrom); err != nil {
			return err
		}

		items := s.engine.Items(cycle.ID)
		fmt.Printf("%s Cycle %d created (%d items)\n", ui.RenderPass("✓"), cycle.Number, len(items))
		return nil
	},
}

var cycleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		cycles := s.engine.Cycles()
		if len(cycles) == 0 {
			fmt.Println("No cycles.")
			return nil
		}
		current := s.engine.CurrentCycleID()
		for _, c := range cycles {
			marker := " "
			if c.ID == current {
				marker = ui.RenderAccent("*")
			}
			fmt.Printf("%s Cycle %d  %s  started %s  (food challenge %s)  %s\n",
				marker, c.Number, c.PatientName,
				c.StartDate.Format("2006-01-02"),
				c.FoodChallengeDate.Format("2006-01-02"),
				ui.RenderDim(c.ID))
		}
		return nil
	},
}

func init() {
	cycleAddCmd.Flags().StringVar(&cycleAddName, "name", "", "patient name")
	cycleAddCmd.Flags().IntVar(&cycleAddNumber, "number", 0, "cycle number (default: next)")
	cycleAddCmd.Flags().StringVar(&cycleAddStart, "start", "", "start date (default: today)")
	cycleAddCmd.Flags().StringVar(&cycleAddFood, "food-challenge", "", "food challenge date")
	cycleAddCmd.Flags().StringVar(&cycleAddCopyFrom, "copy-from", "", "cycle id to copy items from (default: previous cycle)")

	cycleCmd.AddCommand(cycleAddCmd)
	cycleCmd.AddCommand(cycleListCmd)
}
