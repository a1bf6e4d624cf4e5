package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tipsync/internal/hub"
	"tipsync/internal/logging"
	"tipsync/internal/ui"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a room server",
	Long: `Run the websocket room server that devices sync through.

The server holds every room's tree in memory and fans snapshot updates
out to all subscribed devices. One server can host any number of rooms.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = cfg.ListenAddr
		}

		srv := hub.New(addr, nil, logging.New("hub", cfg.LogFile))
		if err := srv.Start(); err != nil {
			return err
		}
		fmt.Printf("%s Room server listening on %s\n", ui.RenderAccent("🚀"), srv.Addr())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		fmt.Println("Shutting down...")
		srv.Stop()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}
