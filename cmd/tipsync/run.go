package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/cache"
	"tipsync/internal/config"
	"tipsync/internal/engine"
	"tipsync/internal/logging"
	"tipsync/internal/remote"
	"tipsync/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Stay bound to the room and keep the local cache in sync.

The daemon holds the websocket subscription open, merges every remote
snapshot into the cache, runs the daily reset at each midnight, and
rebinds automatically when the room code in the config file changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, v, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagRoom != "" {
			cfg.RoomCode = flagRoom
		}
		if flagServer != "" {
			cfg.ServerURL = flagServer
		}
		if cfg.RoomCode == "" {
			return fmt.Errorf("no room configured; run 'tipsync setup' or pass --room")
		}

		logger := logging.New("engine", cfg.LogFile)

		c, err := cache.Open(cfg.CachePath)
		if err != nil {
			return err
		}
		defer c.Close()

		eng, err := engine.New(c, engine.WithLogger(logger))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := remote.Dial(ctx, cfg.ServerURL, logger)
		if err != nil {
			return fmt.Errorf("failed to reach room server %s: %w", cfg.ServerURL, err)
		}
		defer store.Close()

		if err := eng.Bind(ctx, store, cfg.RoomCode); err != nil {
			return err
		}
		defer eng.Unbind()
		fmt.Printf("%s Syncing room %s via %s\n", ui.RenderAccent("🔄"), cfg.RoomCode, cfg.ServerURL)

		// Hot-rebind when the config file's room code changes.
		rebind := make(chan string, 1)
		config.Watch(v, func(next config.Config) {
			if next.RoomCode != "" && next.RoomCode != eng.RoomCode() {
				select {
				case rebind <- next.RoomCode:
				default:
				}
			}
		})

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("Shutting down...")
				return nil
			case room := <-rebind:
				logger.Printf("Room code changed to %s, rebinding", room)
				if err := eng.Bind(ctx, store, room); err != nil {
					logger.Printf("WARNING: rebind failed: %v", err)
				}
			case <-ticker.C:
				if err := eng.CheckAndResetIfNeeded(ctx); err != nil {
					logger.Printf("WARNING: daily reset: %v", err)
				}
			}
		}
	},
}
