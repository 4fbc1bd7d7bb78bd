package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/termpanel/termpanel/pkg/client"
	"github.com/termpanel/termpanel/pkg/types"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"s"},
	Short:   "Manage terminal sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List terminal sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		list, err := c.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if list.Count == 0 {
			fmt.Println("No sessions found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION")
		for _, name := range list.Sessions {
			fmt.Fprintln(w, name)
		}
		return w.Flush()
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a terminal session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		cwd, _ := cmd.Flags().GetString("cwd")
		command, _ := cmd.Flags().GetString("command")
		shell, _ := cmd.Flags().GetString("shell")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := c.CreateSession(ctx, types.CreateSessionRequest{
			Name:    name,
			Cwd:     cwd,
			Command: command,
			Shell:   shell,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		fmt.Printf("✓ Session created: %s\n", resp.Session)
		return nil
	},
}

var sessionsDestroyCmd = &cobra.Command{
	Use:     "destroy <name>",
	Aliases: []string{"rm", "kill"},
	Short:   "Destroy a terminal session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.DestroySession(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		fmt.Printf("✓ Session destroyed: %s\n", args[0])
		return nil
	},
}

var sessionsRunCmd = &cobra.Command{
	Use:   "run <name> <command>",
	Short: "Type a command into a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.RunCommand(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to run command: %w", err)
		}
		fmt.Printf("✓ Command sent to %s\n", args[0])
		return nil
	},
}

var sessionsBindCmd = &cobra.Command{
	Use:   "bind <name> <display-num>",
	Short: "Point a session's GUI environment at a display",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var num int
		if _, err := fmt.Sscanf(args[1], "%d", &num); err != nil {
			return fmt.Errorf("invalid display number %q", args[1])
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := c.BindDisplay(ctx, args[0], num)
		if err != nil {
			return fmt.Errorf("failed to bind display: %w", err)
		}
		fmt.Printf("✓ Session %s bound to %s\n", resp.Session, resp.Display)
		return nil
	},
}

var sessionsUnbindCmd = &cobra.Command{
	Use:   "unbind <name>",
	Short: "Clear a session's GUI environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.UnbindDisplay(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to unbind display: %w", err)
		}
		fmt.Printf("✓ Session %s unbound\n", args[0])
		return nil
	},
}

func init() {
	sessionsCreateCmd.Flags().String("cwd", "", "Working directory for the new session")
	sessionsCreateCmd.Flags().String("command", "", "Command to type into the fresh shell")
	sessionsCreateCmd.Flags().String("shell", "", "Shell to run instead of the server default")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsDestroyCmd)
	sessionsCmd.AddCommand(sessionsRunCmd)
	sessionsCmd.AddCommand(sessionsBindCmd)
	sessionsCmd.AddCommand(sessionsUnbindCmd)
	rootCmd.AddCommand(sessionsCmd)
}
