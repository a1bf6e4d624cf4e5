package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/model"
	"tipsync/internal/ui"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage room users",
}

var userAddAdmin bool

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user in the room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		user := model.User{ID: model.NewID(), Name: args[0], IsAdmin: userAddAdmin}

		opCtx, opCancel := s.opCtx()
		defer opCancel()
		if err := s.engine.AddUser(opCtx, user); err != nil {
			return err
		}
		fmt.Printf("%s User %s created (%s)\n", ui.RenderPass("✓"), user.Name, user.ID)
		return nil
	},
}

var userUseCmd = &cobra.Command{
	Use:   "use <user-id>",
	Short: "Select this device's current user",
	Long: `Select the user this device acts as. The selection is stored on
this device only; it is never synchronized to other devices.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		s.engine.SetCurrentUser(args[0])
		if u := s.engine.CurrentUser(); u != nil {
			fmt.Printf("%s Now acting as %s\n", ui.RenderPass("✓"), u.Name)
		} else {
			fmt.Printf("%s User %s selected (not yet visible in room)\n", ui.RenderWarn("⚠"), args[0])
		}
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List room users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		users := s.engine.Users()
		if len(users) == 0 {
			fmt.Println("No users.")
			return nil
		}
		current := s.engine.CurrentUser()
		for _, u := range users {
			marker := " "
			if current != nil && current.ID == u.ID {
				marker = ui.RenderAccent("*")
			}
			role := ""
			if u.IsAdmin {
				role = " (admin)"
			}
			fmt.Printf("%s %s%s  %s\n", marker, u.Name, role, ui.RenderDim(u.ID))
		}
		return nil
	},
}

var unitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Manage dose units",
}

var unitAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a dose unit to the room",
	Args:  cobra.ExactArgs(1),
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
		if err := s.engine.AddUnit(opCtx, model.Unit{ID: model.NewID(), Name: args[0]}); err != nil {
			return err
		}
		fmt.Printf("%s Unit %s added\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var unitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dose units",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, u := range s.engine.Units() {
			fmt.Printf("  %s  %s\n", u.Name, ui.RenderDim(u.ID))
		}
		return nil
	},
}

func init() {
	userAddCmd.Flags().BoolVar(&userAddAdmin, "admin", false, "grant admin rights")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userUseCmd)
	userCmd.AddCommand(userListCmd)

	unitCmd.AddCommand(unitAddCmd)
	unitCmd.AddCommand(unitListCmd)
}
