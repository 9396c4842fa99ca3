// zecmeter - metered streaming billing over Zcash
package main

import (
	"context"
	"os"

	"github.com/mbd888/zecmeter/internal/config"
	"github.com/mbd888/zecmeter/internal/logging"
	"github.com/mbd888/zecmeter/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting zecmeter",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"billing_interval_seconds", cfg.BillingIntervalSeconds,
		"zcash_rpc_url", cfg.ZcashRPCURL,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
