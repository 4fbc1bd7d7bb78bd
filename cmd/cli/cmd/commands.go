package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/termpanel/termpanel/pkg/client"
)

var commandsCmd = &cobra.Command{
	Use:     "commands",
	Aliases: []string{"c"},
	Short:   "Manage per-session quick commands",
}

var commandsListCmd = &cobra.Command{
	Use:     "list <session>",
	Aliases: []string{"ls"},
	Short:   "List a session's quick commands",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sc, err := c.GetCommands(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get commands: %w", err)
		}
		if len(sc.Commands) == 0 {
			fmt.Println("No quick commands")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tLABEL\tCOMMAND")
		for i, entry := range sc.Commands {
			fmt.Fprintf(w, "%d\t%s\t%s\n", i, entry.Label, entry.Command)
		}
		return w.Flush()
	},
}

var commandsAddCmd = &cobra.Command{
	Use:   "add <session> <label> <command>",
	Short: "Add a quick command",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sc, err := c.AddCommand(ctx, args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("failed to add command: %w", err)
		}
		fmt.Printf("✓ Added %q (%d commands)\n", args[1], len(sc.Commands))
		return nil
	},
}

var commandsDeleteCmd = &cobra.Command{
	Use:     "delete <session> <index>",
	Aliases: []string{"rm"},
	Short:   "Delete a quick command by index",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[1])
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sc, err := c.DeleteCommand(ctx, args[0], index)
		if err != nil {
			return fmt.Errorf("failed to delete command: %w", err)
		}
		fmt.Printf("✓ Deleted (%d commands remain)\n", len(sc.Commands))
		return nil
	},
}

func init() {
	commandsCmd.AddCommand(commandsListCmd)
	commandsCmd.AddCommand(commandsAddCmd)
	commandsCmd.AddCommand(commandsDeleteCmd)
	rootCmd.AddCommand(commandsCmd)
}
