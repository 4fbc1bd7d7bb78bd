package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/termpanel/termpanel/pkg/client"
	"github.com/termpanel/termpanel/pkg/types"
)

var attachCmd = &cobra.Command{
	Use:   "attach <session>",
	Short: "Attach the local terminal to a session's live stream",
	Long: `Attach connects to the server's event stream, subscribes to the given
session, and bridges it to the local terminal: keystrokes are forwarded
as input, output is written to stdout, and window resizes follow the
local terminal. Press Ctrl-] to detach.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session := args[0]

		c := client.NewClient(baseURL, apiKey)
		conn, _, err := websocket.DefaultDialer.Dial(c.WebSocketURL(), nil)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", c.WebSocketURL(), err)
		}
		defer conn.Close()

		stdinFd := int(os.Stdin.Fd())
		cols, rows := 120, 40
		if w, h, err := term.GetSize(stdinFd); err == nil {
			cols, rows = w, h
		}

		send := func(ev types.ClientEvent) error {
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			return conn.WriteMessage(websocket.TextMessage, payload)
		}

		if err := send(types.ClientEvent{
			Type:    types.EventSubscribe,
			Session: session,
			Cols:    cols,
			Rows:    rows,
		}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)

		// Follow local terminal resizes.
		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				if w, h, err := term.GetSize(stdinFd); err == nil {
					send(types.ClientEvent{
						Type:    types.EventResize,
						Session: session,
						Cols:    w,
						Rows:    h,
					})
				}
			}
		}()

		done := make(chan error, 2)

		// Server events to stdout.
		go func() {
			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					done <- nil
					return
				}
				var ev types.ServerEvent
				if err := json.Unmarshal(payload, &ev); err != nil {
					continue
				}
				switch ev.Type {
				case types.EventOutput:
					os.Stdout.WriteString(ev.Data)
				case types.EventError:
					fmt.Fprintf(os.Stderr, "\r\nerror: %s\r\n", ev.Message)
					if ev.Session == "" || ev.Session == session {
						done <- fmt.Errorf("%s", ev.Message)
						return
					}
				}
			}
		}()

		// Local keystrokes to the session. Ctrl-] (0x1d) detaches.
		go func() {
			buf := make([]byte, 4096)
			for {
				n, err := os.Stdin.Read(buf)
				if err != nil {
					done <- nil
					return
				}
				chunk := buf[:n]
				for _, b := range chunk {
					if b == 0x1d {
						done <- nil
						return
					}
				}
				if err := send(types.ClientEvent{
					Type:    types.EventInput,
					Session: session,
					Keys:    string(chunk),
				}); err != nil {
					done <- nil
					return
				}
			}
		}()

		err = <-done
		send(types.ClientEvent{Type: types.EventUnsubscribe, Session: session})
		fmt.Print("\r\n")
		return err
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
