package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/helixbridge/helixbridge/internal/dependency"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show helixbridge status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	fmt.Printf("%s helixbridge Status\n\n", logo)

	cfgPath := filepath.Join(flagWorkspace, "mediator.json")
	cfgMark := "✗"
	if _, err := os.Stat(cfgPath); err == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:   %s %s\n", cfgPath, cfgMark)
	fmt.Printf("Registry: %s\n\n", registryRoot())

	c, err := dependency.New(flagWorkspace, registryRoot())
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Servers().Load(context.Background()); err != nil {
		return err
	}

	fmt.Printf("Registry tools: %d\n", c.Registry().Count())
	fmt.Printf("Built-in tools: %d\n\n", len(c.Builtins().Descriptors()))

	status := c.Servers().GetServerStatus()
	if len(status) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}
	fmt.Println("Servers:")
	for _, s := range status {
		mark := " "
		if !s.Enabled {
			mark = "-"
		}
		fmt.Printf("  %s %-24s %-10s %s\n", mark, s.Name, s.Protocol, s.ID)
	}
	return nil
}
