package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"flavorfind/internal/app"
	"flavorfind/internal/config"
	"flavorfind/internal/logging"
	"flavorfind/internal/platform"
	"flavorfind/internal/tui"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	// The terminal belongs to the UI, so logs go to a file.
	log := logging.New(cfg.Environment, cfg.LogLevel)
	f, err := os.OpenFile("flavorfind-tui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open log file:", err)
		os.Exit(1)
	}
	defer f.Close()
	log.SetOutput(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := platform.Open(ctx, cfg, nil, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "backend setup failed:", err)
		os.Exit(1)
	}
	defer p.Close()

	throttle := app.NewThrottle(cfg.LoginRate, cfg.LoginBurst)
	gw := app.NewGateway(p.Backend, throttle, logging.Component(log, "auth"))
	model := tui.New(ctx, gw, logging.Component(log, "dashboard"))

	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if m, ok := final.(tui.Model); ok {
		m.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
