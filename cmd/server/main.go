package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"regprobe/internal/app"
	"regprobe/internal/shared/config"
	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "regprobe.ini")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	appServer, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to initialize application")
	}
	appServer.Run()
}
