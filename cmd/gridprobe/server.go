package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/gridprobe/gridprobe/internal/control"
	"github.com/gridprobe/gridprobe/internal/history"
	"github.com/gridprobe/gridprobe/internal/httpserver"
	"github.com/gridprobe/gridprobe/internal/hub"
	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/report"
	"github.com/gridprobe/gridprobe/internal/signals"
	"github.com/gridprobe/gridprobe/internal/stack"
	"github.com/gridprobe/gridprobe/internal/status"
	"github.com/gridprobe/gridprobe/internal/testcfg"
	"github.com/gridprobe/gridprobe/internal/testrun"
)

// runServer wires the observation pipeline, the protocol endpoints and the
// HTTP API together and runs until a shutdown signal arrives.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	// Broadcast hub first: every other component publishes into it.
	events := hub.New(cfg.HubBuffer)

	// Durable telegram history. Append durability gates the live stream.
	histStore, err := history.Open(filepath.Join(cfg.DataDir, "history"), events)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer histStore.Close()

	tracker := status.New(events, cfg.ConnectingTimeout)

	signalLists, err := signals.NewManager(filepath.Join(cfg.DataDir, "signals"))
	if err != nil {
		return fmt.Errorf("failed to open signal lists: %w", err)
	}

	// The default signal list is optional; without one the decoder's raw
	// labels pass through unchanged.
	var dict *signals.Dictionary
	if cfg.SignalList != "" {
		dict, err = signalLists.Load(cfg.SignalList)
		if err != nil {
			log.Printf("Warning: default signal list %q: %v", cfg.SignalList, err)
			dict = nil
		}
	}

	// Protocol database for finished test runs.
	protocols, err := report.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize protocol store: %w", err)
	}
	defer protocols.Close()

	configs, err := testcfg.NewStore(filepath.Join(cfg.DataDir, "tests.yml"))
	if err != nil {
		return fmt.Errorf("failed to open test configurations: %w", err)
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := stack.NewSimulator(stack.SimulatorConfig{
		Channel:        model.ChannelClient,
		LocalEndpoint:  cfg.ClientEndpoint,
		RemoteEndpoint: cfg.ServerEndpoint,
		Station:        cfg.Station,
		Originator:     cfg.Originator,
		ConnectDelay:   cfg.ConnectDelay,
		KeepAlive:      cfg.KeepAlive,
	})
	server := stack.NewSimulator(stack.SimulatorConfig{
		Channel:        model.ChannelServer,
		LocalEndpoint:  cfg.ServerEndpoint,
		RemoteEndpoint: cfg.ClientEndpoint,
		Station:        cfg.Station,
		Originator:     cfg.Originator,
		ConnectDelay:   cfg.ConnectDelay,
		KeepAlive:      cfg.KeepAlive,
	})

	controller := control.New(ctx, client, server, tracker, histStore, dict)
	defer controller.Shutdown()

	engine := testrun.NewEngine(configs, protocols, events, testrun.Environment{
		Client:  client,
		Server:  server,
		Signals: signalLists,
	})

	apiServer := httpserver.NewServer(cfg.APIAddr, httpserver.Deps{
		History:   histStore,
		Hub:       events,
		Tracker:   tracker,
		Control:   controller,
		Configs:   configs,
		Engine:    engine,
		Protocols: protocols,
		Signals:   signalLists,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg)

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()

	// A run still executing at shutdown is aborted and its protocol is
	// written before the stores close.
	engine.Abort()
	engine.Wait()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "gridprobe")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "gridprobe.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦═╗╦╔╦╗╔═╗╦═╗╔═╗╔╗ ╔═╗
    ║ ╦╠╦╝║ ║║╠═╝╠╦╝║ ║╠╩╗║╣
    ╚═╝╩╚═╩═╩╝╩  ╩╚═╚═╝╚═╝╚═╝`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	lines = append(lines, fmt.Sprintf("    %s  Client Side    %s", dot, dim.Render(cfg.ClientEndpoint)))
	lines = append(lines, fmt.Sprintf("    %s  Server Side    %s", dot, dim.Render(cfg.ServerEndpoint)))
	lines = append(lines, "")

	// Storage
	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  History        %s", check, dim.Render(shortenPath(filepath.Join(cfg.DataDir, "history")))))
	lines = append(lines, fmt.Sprintf("    %s  Protocols      %s", check, dim.Render(shortenPath(cfg.DBPath))))

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}
	if cfg.SignalList != "" {
		lines = append(lines, fmt.Sprintf("    %s  Signal List    %s", check, dim.Render(cfg.SignalList)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Signal List    %s", dot, dim.Render("none")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
