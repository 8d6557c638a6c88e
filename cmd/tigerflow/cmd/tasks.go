package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tigerflow/internal/registry"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect built-in task implementations",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered built-in tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range registry.List() {
			t, _ := registry.Lookup(name)
			fmt.Printf("%-20s %s\n", t.Name, t.ShortDescription)
		}
		return nil
	},
}

var tasksInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a built-in task's parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, ok := registry.Lookup(args[0])
		if !ok {
			return fmt.Errorf("task %q not found", args[0])
		}
		fmt.Println(t.Name)
		fmt.Println(t.LongDescription)
		fmt.Println()
		fmt.Println("parameters:")
		for _, p := range registry.ParamsOf(t) {
			req := ""
			if p.Required {
				req = " (required)"
			}
			fmt.Printf("  %-15s %-10s default=%q%s  %s\n", p.Name, p.Type, p.Default, req, p.Help)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksInfoCmd)
}
