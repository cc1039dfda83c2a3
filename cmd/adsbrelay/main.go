package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"adsbrelay/internal/config"
	"adsbrelay/internal/engine"
	"adsbrelay/internal/logging"
)

func main() {
	configPath := flag.StringP("config", "c", "adsbrelay.yml", "path to the YAML config file (optional)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	logging.InitFromEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *printConfig {
		if err := cfg.Dump(os.Stdout); err != nil {
			log.Fatalf("config: %v", err)
		}
		return
	}
	if cfg.Log.Level != "" || cfg.Log.JSON {
		logging.Configure(cfg.Log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	st, err := e.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.L().Error("feed terminated", "err", err, "lines", st.Lines)
		stop()
		os.Exit(1)
	}
}
