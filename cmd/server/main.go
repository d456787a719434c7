package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	loreweave "github.com/loreweave/loreweave"
	"github.com/loreweave/loreweave/apiServer"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(conf.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	log := logging.New(slog.LevelInfo)
	wiki, err := loreweave.New(loreweave.Config{
		DataDir:        conf.DataDir,
		Domain:         conf.Domain,
		Title:          conf.Title,
		MinimumFreeGB:  conf.MinimumFreeGB,
		GCInterval:     conf.GCInterval(),
		AllowedDomains: conf.AllowedDomains,
		BlockedDomains: conf.BlockedDomains,
		Workers:        conf.Workers,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer wiki.Close()

	server := apiServer.New(wiki, apiServer.WithLogger(log))
	log.Info("listening", "addr", conf.ListenAddr, "domain", conf.Domain)
	return http.ListenAndServe(conf.ListenAddr, server)
}
