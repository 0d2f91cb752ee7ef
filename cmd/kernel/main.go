package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/programs"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	run := flag.String("run", "", "Comma-separated programs to start at boot")
	addr := flag.String("addr", "", "Debug API listen address")
	dev := flag.Bool("dev", false, "Development logging")
	withMonitor := flag.Bool("monitor", true, "Read monitor commands from stdin")
	list := flag.Bool("list", false, "List built-in programs and exit")
	flag.Parse()

	if *list {
		for _, p := range programs.All() {
			fmt.Printf("%-12s %s\n", p.Name, p.Help)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *run != "" {
		cfg.Kernel.Programs = strings.Split(*run, ",")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger, server.WithConsole(os.Stdout))
	if err != nil {
		logger.Error("Failed to boot", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var in io.Reader
	if *withMonitor {
		in = os.Stdin
	}
	if err := srv.Run(ctx, in, os.Stdout); err != nil {
		logger.Error("Kernel stopped", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
