package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/model"
	"tipsync/internal/ui"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage dose items in the current cycle",
}

var (
	itemCycleID  string
	itemCategory string
	itemDose     float64
	itemUnit     string
	itemOrder    int
)

// resolveCycle returns the explicit --cycle id or the current cycle.
func resolveCycle(s *session) (string, error) {
	if itemCycleID != "" {
		return itemCycleID, nil
	}
	id := s.engine.CurrentCycleID()
	if id == "" {
		return "", fmt.Errorf("no cycles exist; create one with 'tipsync cycle add'")
	}
	return id, nil
}

var itemAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a dose item",
	Long: `Add a dose item to a cycle (the current cycle by default).

Categories: ` + strings.Join(categoryNames(), ", ") + `.

Requires an admin user.`,
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
		category, ok := model.ParseCategory(itemCategory)
		if !ok {
			return fmt.Errorf("unknown category %q (expected one of: %s)", itemCategory, strings.Join(categoryNames(), ", "))
		}

		item := model.Item{
			ID:       model.NewID(),
			Name:     args[0],
			Category: category,
			Order:    itemOrder,
		}
		if cmd.Flags().Changed("dose") {
			dose := itemDose
			item.Dose = &dose
		}
		if itemUnit != "" {
			unit := itemUnit
			item.Unit = &unit
		}

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.AddItem(opCtx, item, cycleID); err != nil {
			return err
		}
		fmt.Printf("%s Added %s (%s)\n", ui.RenderPass("✓"), item.Name, item.Category)
		return nil
	},
}

var itemRemoveCmd = &cobra.Command{
	Use:   "remove <item-id>",
	Short: "Remove a dose item",
	Args:  cobra.ExactArgs(1),
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

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.RemoveItem(opCtx, args[0], cycleID); err != nil {
			return err
		}
		fmt.Printf("%s Removed item %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a cycle's items with today's log state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		cycleID, err := resolveCycle(s)
		if err != nil {
			return err
		}

		items := s.engine.Items(cycleID)
		if len(items) == 0 {
			fmt.Println("No items.")
			return nil
		}

		var lastCategory model.Category
		for _, it := range items {
			if it.Category != lastCategory {
				header := string(it.Category)
				if s.engine.CategoryCollapsed(it.Category) {
					header += " (collapsed)"
				}
				fmt.Printf("\n%s\n", ui.RenderAccent(header))
				lastCategory = it.Category
			}
			mark := ui.RenderDim("○")
			if len(s.engine.ConsumptionEntries(cycleID, it.ID)) > 0 {
				mark = ui.RenderPass("●")
			}
			line := fmt.Sprintf("  %s %s", mark, it.Name)
			if it.Dose != nil {
				unit := ""
				if it.Unit != nil {
					unit = *it.Unit
				}
				line += fmt.Sprintf("  %g%s", *it.Dose, unit)
			}
			fmt.Printf("%s  %s\n", line, ui.RenderDim(it.ID))
		}
		fmt.Println()
		return nil
	},
}

func categoryNames() []string {
	names := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		names = append(names, string(c))
	}
	return names
}

func init() {
	itemCmd.PersistentFlags().StringVar(&itemCycleID, "cycle", "", "cycle id (default: current cycle)")
	itemAddCmd.Flags().StringVar(&itemCategory, "category", "", "item category")
	itemAddCmd.Flags().Float64Var(&itemDose, "dose", 0, "dose amount")
	itemAddCmd.Flags().StringVar(&itemUnit, "unit", "", "dose unit (e.g. mg)")
	itemAddCmd.Flags().IntVar(&itemOrder, "order", 0, "sort position (default: append)")

	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemRemoveCmd)
	itemCmd.AddCommand(itemListCmd)
}
