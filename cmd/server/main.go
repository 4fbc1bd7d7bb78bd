package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/termpanel/termpanel/internal/api"
	"github.com/termpanel/termpanel/internal/bridge"
	"github.com/termpanel/termpanel/internal/commands"
	"github.com/termpanel/termpanel/internal/config"
	"github.com/termpanel/termpanel/internal/display"
	"github.com/termpanel/termpanel/internal/tmux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	mux := tmux.NewManager(cfg.TmuxBin, cfg.TmuxSocket, cfg.ScrollbackLimit)

	br := bridge.New(mux, bridge.Options{
		Grace: cfg.SubscriberGrace,
	})
	defer br.CloseAll()

	displays := display.NewManager(display.Options{
		XvfbBin:           cfg.XvfbBin,
		X11vncBin:         cfg.X11vncBin,
		WebsockifyBin:     cfg.WebsockifyBin,
		X11Dir:            cfg.X11Dir,
		FramebufferSettle: cfg.FramebufferSettle,
		RFBSettle:         cfg.RFBSettle,
		BridgeSettle:      cfg.BridgeSettle,
	})
	defer displays.CloseAll()

	cmdStore, err := commands.NewStore(cfg.CommandsFile)
	if err != nil {
		log.Fatalf("failed to open commands store: %v", err)
	}
	defer cmdStore.Close()

	server := api.NewServer(cfg, mux, br, displays, cmdStore)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
		log.Printf("termpanel: listening on %s (tmux socket %q, prefix %q)", addr, cfg.TmuxSocket, cfg.Prefix())
		errCh <- server.Start(addr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("termpanel: received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}

	server.Close()
}
