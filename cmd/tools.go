package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixbridge/helixbridge/internal/dependency"
	"github.com/helixbridge/helixbridge/internal/selector"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and run tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and registry tools",
	RunE:  runToolsList,
}

var (
	selectHasData bool
	selectTopK    int
)

var toolsSelectCmd = &cobra.Command{
	Use:   "select <query>",
	Short: "Rank registry tools against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runToolsSelect,
}

var execParams string

var toolsExecCmd = &cobra.Command{
	Use:   "exec <name>",
	Short: "Execute a tool (connects to configured servers first)",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsExec,
}

func init() {
	toolsSelectCmd.Flags().BoolVar(&selectHasData, "has-data", false, "Assume data is already loaded")
	toolsSelectCmd.Flags().IntVar(&selectTopK, "top", selector.DefaultTopK, "Number of results")
	toolsExecCmd.Flags().StringVar(&execParams, "params", "{}", "Tool parameters as JSON")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsSelectCmd)
	toolsCmd.AddCommand(toolsExecCmd)
}

func runToolsList(_ *cobra.Command, _ []string) error {
	c, err := dependency.New(flagWorkspace, registryRoot())
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Println("Built-in tools:")
	for _, d := range c.Builtins().Descriptors() {
		fmt.Printf("  %-22s %s\n", d.Name, d.Description)
	}

	fmt.Println("\nRegistry tools:")
	for _, cat := range c.Registry().Categories() {
		specs := c.Registry().GetToolsByCategory(cat.Name)
		if len(specs) == 0 {
			continue
		}
		fmt.Printf("  [%s]\n", cat.Name)
		for _, spec := range specs {
			fmt.Printf("    %-20s %s\n", spec.Name, spec.Description)
		}
	}
	return nil
}

func runToolsSelect(_ *cobra.Command, args []string) error {
	c, err := dependency.New(flagWorkspace, registryRoot())
	if err != nil {
		return err
	}
	defer c.Close()

	sel := c.Selector()
	sel.SetTopK(selectTopK)
	query := strings.Join(args, " ")
	ranked := sel.Select(query, selector.Context{
		HasData:    selectHasData,
		HasNetwork: true,
		HasAuth:    true,
	})
	if len(ranked) == 0 {
		fmt.Println("No matching tools.")
		return nil
	}
	for i, r := range ranked {
		fmt.Printf("%2d. %-24s %7.1f  %s\n", i+1, r.Spec.Name, r.Score, r.Spec.Description)
	}
	return nil
}

func runToolsExec(_ *cobra.Command, args []string) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(execParams), &params); err != nil {
		return fmt.Errorf("parse --params: %w", err)
	}

	c, err := dependency.New(flagWorkspace, registryRoot())
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	if err := c.Servers().Load(ctx); err != nil {
		return err
	}
	// Built-ins run without any connection; only dial out when needed.
	if !c.Builtins().Has(args[0]) {
		c.Servers().ConnectAll(ctx)
	}

	result, err := c.Router().ExecuteTool(ctx, args[0], params)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
