package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/helixbridge/helixbridge/internal/bus"
	"github.com/helixbridge/helixbridge/internal/dependency"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to all configured servers and stay running",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	c, err := dependency.New(flagWorkspace, registryRoot())
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Servers().Load(ctx); err != nil {
		return fmt.Errorf("load server configurations: %w", err)
	}

	events := c.Events()
	events.On(bus.TopicServerConnected, func(p any) {
		ev := p.(bus.ServerEvent)
		fmt.Printf("✓ connected: %s\n", ev.ServerID)
	})
	events.On(bus.TopicServerDisconnected, func(p any) {
		ev := p.(bus.ServerEvent)
		fmt.Printf("✗ disconnected: %s\n", ev.ServerID)
	})
	events.On(bus.TopicServerError, func(p any) {
		ev := p.(bus.ServerEvent)
		fmt.Printf("! error on %s: %v\n", ev.ServerID, ev.Err)
	})
	events.On(bus.TopicToolsUpdated, func(p any) {
		ev := p.(bus.ToolsEvent)
		fmt.Printf("  tools on %s: %d\n", ev.ServerID, ev.Count)
	})

	fmt.Printf("%s helixbridge serving (%d registry tools). Press Ctrl+C to stop.\n",
		logo, c.Registry().Count())

	c.Servers().ConnectAll(ctx)
	<-ctx.Done()

	fmt.Println("\nShutdown complete.")
	return nil
}
