// Command ask is an interactive terminal client for the fund facts
// assistant. It talks to the index and generation service directly, the
// same way cmd/api does.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mffacts/mffacts/cmd/ask/tui"
	"github.com/mffacts/mffacts/engine/bootstrap"
	"github.com/mffacts/mffacts/pkg/config"
)

func main() {
	var (
		configPath = flag.String("config", envOr("MFFACTS_CONFIG", "config.yaml"), "path to the YAML config")
		logPath    = flag.String("log", "ask.log", "log file; the terminal is reserved for the UI")
		question   = flag.String("q", "", "answer one question, print it and exit")
	)
	flag.Parse()

	if err := run(*configPath, *logPath, *question); err != nil {
		fmt.Fprintln(os.Stderr, "ask:", err)
		os.Exit(1)
	}
}

func run(configPath, logPath, question string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()
	logger := bootstrap.NewLogger(logFile, cfg.Log.Level, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	svc, err := app.QueryService(ctx)
	if err != nil {
		return err
	}

	if question != "" {
		ans := svc.AnswerQuery(ctx, question)
		fmt.Println(ans.Answer)
		if ans.Citation != nil {
			fmt.Println("Source:", *ans.Citation)
		}
		return nil
	}

	_, err = tea.NewProgram(tui.New(ctx, svc), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
