package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MimeLyc/cloudml-magic/internal/cli"
	"github.com/MimeLyc/cloudml-magic/internal/config"
	"github.com/MimeLyc/cloudml-magic/internal/persistence"
	"github.com/MimeLyc/cloudml-magic/internal/service"
	"github.com/MimeLyc/cloudml-magic/internal/session"
	"github.com/MimeLyc/cloudml-magic/internal/toolchain"
	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		return 2
	}

	level := log.ParseLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		fileLogger, err := log.NewFileLogger(cfg.Log.File, level)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Failed to open log file:", err)
			return 2
		}
		defer fileLogger.Close()
		log.SetLogger(fileLogger.Logger)
	} else {
		log.InitLogger(level)
	}

	store, err := persistence.NewSQLiteStore(cfg.Session.DBPath)
	if err != nil {
		log.Error("Failed to open session store %s: %v", cfg.Session.DBPath, err)
		return 1
	}
	defer store.Close()

	env := cli.Env{
		Config:   *cfg,
		Sessions: store,
		Factory: func(sessions session.Store, kernel toolchain.Kernel) (*service.Service, error) {
			return service.New(*cfg, service.Deps{
				Sessions:    sessions,
				Submissions: store,
				Kernel:      kernel,
				Out:         os.Stdout,
				ErrOut:      os.Stderr,
			})
		},
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	err = service.SafeExecute(func() error {
		return cli.Run(ctx, os.Args[1:], env)
	})
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Message)
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		log.Warn("Interrupted")
		return 130
	}

	service.NewDefaultErrorHandler().Handle(err)
	return 1
}
