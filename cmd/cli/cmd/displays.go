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
	"github.com/termpanel/termpanel/pkg/types"
)

var displaysCmd = &cobra.Command{
	Use:     "displays",
	Aliases: []string{"d"},
	Short:   "Manage virtual display slots",
}

var displaysListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List running display slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		list, err := c.ListDisplays(ctx)
		if err != nil {
			return fmt.Errorf("failed to list displays: %w", err)
		}
		if list.Count == 0 {
			fmt.Println("No displays running")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DISPLAY\tPANEL\tVNC\tWS\tSIZE")
		for _, d := range list.Displays {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%dx%d\n",
				d.Display, d.PanelIndex, d.VNCPort, d.WSPort, d.Width, d.Height)
		}
		return w.Flush()
	},
}

var displaysCreateCmd = &cobra.Command{
	Use:   "create <display-num>",
	Short: "Start a display slot pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		num, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid display number %q", args[0])
		}
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		resp, err := c.CreateDisplay(ctx, types.CreateDisplayRequest{
			DisplayNum: &num,
			Width:      width,
			Height:     height,
		})
		if err != nil {
			return fmt.Errorf("failed to create display: %w", err)
		}
		verb := "already running"
		if resp.Created {
			verb = "created"
		}
		d := resp.Display
		fmt.Printf("✓ Display %s %s (vnc %d, ws %d, %dx%d)\n",
			d.Display, verb, d.VNCPort, d.WSPort, d.Width, d.Height)
		return nil
	},
}

var displaysDestroyCmd = &cobra.Command{
	Use:     "destroy <display-num>",
	Aliases: []string{"rm"},
	Short:   "Tear a display slot down",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		num, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid display number %q", args[0])
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.ReleaseDisplay(ctx, num); err != nil {
			return fmt.Errorf("failed to release display: %w", err)
		}
		fmt.Printf("✓ Display :%d released\n", num)
		return nil
	},
}

var displaysResizeCmd = &cobra.Command{
	Use:   "resize <display-num> <width> <height>",
	Short: "Restart a display slot at a new geometry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		num, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid display number %q", args[0])
		}
		width, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid width %q", args[1])
		}
		height, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid height %q", args[2])
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		resp, err := c.ResizeDisplay(ctx, num, width, height)
		if err != nil {
			return fmt.Errorf("failed to resize display: %w", err)
		}
		d := resp.Display
		fmt.Printf("✓ Display %s resized to %dx%d\n", d.Display, d.Width, d.Height)
		return nil
	},
}

var displaysEnvCmd = &cobra.Command{
	Use:   "env <display-num>",
	Short: "Print the shell environment for a display binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		num, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid display number %q", args[0])
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := c.DisplayEnv(ctx, num)
		if err != nil {
			return fmt.Errorf("failed to get display env: %w", err)
		}
		fmt.Println(resp.ExportCommand)
		return nil
	},
}

func init() {
	displaysCreateCmd.Flags().Int("width", 1280, "Framebuffer width")
	displaysCreateCmd.Flags().Int("height", 800, "Framebuffer height")

	displaysCmd.AddCommand(displaysListCmd)
	displaysCmd.AddCommand(displaysCreateCmd)
	displaysCmd.AddCommand(displaysDestroyCmd)
	displaysCmd.AddCommand(displaysResizeCmd)
	displaysCmd.AddCommand(displaysEnvCmd)
	rootCmd.AddCommand(displaysCmd)
}
