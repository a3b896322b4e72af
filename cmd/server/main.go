// PodSwap - hash time-locked swaps for ERC20, ERC721 and ERC1155 assets
package main

import (
	"context"
	"os"

	"github.com/mbd888/podswap/internal/config"
	"github.com/mbd888/podswap/internal/logging"
	"github.com/mbd888/podswap/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting podswap",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"on_chain", cfg.OnChain(),
		"chain_id", cfg.ChainID,
		"clock", cfg.ClockSource,
		"clock_override", cfg.ClockOverrideEnabled(),
		"persistent", cfg.DatabaseURL != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
