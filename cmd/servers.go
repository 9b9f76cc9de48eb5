package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixbridge/helixbridge/internal/dependency"
	"github.com/helixbridge/helixbridge/internal/schema"
	"github.com/helixbridge/helixbridge/internal/server"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage upstream tool servers",
}

var (
	addName        string
	addURL         string
	addProtocol    string
	addAutoConnect bool
)

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  runServersList,
}

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new server",
	RunE:  runServersAdd,
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a server (built-ins are protected)",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersRemove,
}

var testProtocol string

var serversTestCmd = &cobra.Command{
	Use:   "test <url>",
	Short: "Probe reachability of a server URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersTest,
}

func init() {
	serversAddCmd.Flags().StringVar(&addName, "name", "", "Display name")
	serversAddCmd.Flags().StringVar(&addURL, "url", "", "Server URL (ws://, wss://, http://, https://)")
	serversAddCmd.Flags().StringVar(&addProtocol, "protocol", "websocket", "Transport: websocket | mcp-ws | http | sse")
	serversAddCmd.Flags().BoolVar(&addAutoConnect, "auto-connect", true, "Connect automatically on serve")
	serversAddCmd.MarkFlagRequired("url") //nolint:errcheck

	serversTestCmd.Flags().StringVar(&testProtocol, "protocol", "websocket", "Transport: websocket | mcp-ws | http | sse")

	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversAddCmd)
	serversCmd.AddCommand(serversRemoveCmd)
	serversCmd.AddCommand(serversTestCmd)
}

func runServersList(_ *cobra.Command, _ []string) error {
	c, mgr, err := openManager(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	status := mgr.GetServerStatus()
	if len(status) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}
	for _, s := range status {
		state := "disabled"
		if s.Enabled {
			state = "enabled"
		}
		fmt.Printf("%-36s %-24s %-8s %s\n", s.ID, s.Name, s.Protocol, state)
	}
	return nil
}

func openManager(ctx context.Context) (*dependency.Container, *server.Manager, error) {
	c, err := dependency.New(flagWorkspace, registryRoot())
	if err != nil {
		return nil, nil, err
	}
	if err := c.Servers().Load(ctx); err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, c.Servers(), nil
}

func runServersAdd(_ *cobra.Command, _ []string) error {
	c, mgr, err := openManager(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := mgr.AddServer(schema.ServerConfig{
		Name:        addName,
		URL:         addURL,
		Enabled:     true,
		AutoConnect: addAutoConnect,
		Protocol:    schema.Protocol(addProtocol),
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ added %s\n", id)
	return nil
}

func runServersRemove(_ *cobra.Command, args []string) error {
	c, mgr, err := openManager(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	if !mgr.RemoveServer(args[0]) {
		return fmt.Errorf("server %q not removable (unknown or built-in)", args[0])
	}
	fmt.Printf("✓ removed %s\n", args[0])
	return nil
}

func runServersTest(_ *cobra.Command, args []string) error {
	c, mgr, err := openManager(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	ok := mgr.TestServerConnection(ctx, schema.ServerConfig{
		URL:      args[0],
		Protocol: schema.Protocol(testProtocol),
	})
	if !ok {
		return fmt.Errorf("%s is not reachable", args[0])
	}
	fmt.Printf("✓ %s is reachable\n", args[0])
	return nil
}
