package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"tipsync/internal/config"
	"tipsync/internal/logging"
	"tipsync/internal/model"
	"tipsync/internal/remote"
	"tipsync/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-run configuration",
	Long: `Configure this device: room code, server URL, and your user.

The room code groups devices; everyone who enters the same code shares
one schedule. Your user is created in the room if it does not exist,
and selected as this device's current user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var (
			roomCode  = cfg.RoomCode
			serverURL = cfg.ServerURL
			userName  string
			isAdmin   bool
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Room code").
					Description("Shared by every device tracking this schedule").
					Value(&roomCode).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("room code is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Server URL").
					Description("Room server websocket endpoint").
					Value(&serverURL),
				huh.NewInput().
					Title("Your name").
					Value(&userName).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("name is required")
						}
						return nil
					}),
				huh.NewConfirm().
					Title("Administrator?").
					Description("Admins can create cycles and edit items").
					Value(&isAdmin),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		cfg.RoomCode = strings.TrimSpace(roomCode)
		cfg.ServerURL = strings.TrimSpace(serverURL)

		path := flagConfig
		if path == "" {
			path = filepath.Join(config.Dir(), "config.yaml")
		}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Printf("%s Config written to %s\n", ui.RenderPass("✓"), path)

		// Register the user in the room and select it on this device.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		store, err := remote.Dial(ctx, cfg.ServerURL, logging.Discard())
		if err != nil {
			fmt.Printf("%s Could not reach %s; user will be created on first sync\n", ui.RenderWarn("⚠"), cfg.ServerURL)
			return nil
		}
		defer store.Close()

		user := model.User{ID: model.NewID(), Name: strings.TrimSpace(userName), IsAdmin: isAdmin}
		if err := store.Write(ctx, remote.RoomPath(cfg.RoomCode, "users", user.ID), model.EncodeUser(user)); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()
		s.engine.SetCurrentUser(user.ID)

		fmt.Printf("%s User %s created in room %s\n", ui.RenderPass("✓"), user.Name, cfg.RoomCode)
		return nil
	},
}
