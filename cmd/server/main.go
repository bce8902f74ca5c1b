// CoachGate - subscription-gated AI coaching chat gateway
package main

import (
	"context"
	"os"

	"github.com/mbd888/coachgate/internal/config"
	"github.com/mbd888/coachgate/internal/logging"
	"github.com/mbd888/coachgate/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting coachgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"beta_mode", cfg.BetaMode,
		"free_chat_limit", cfg.FreeChatLimit,
		"news", cfg.NewsEnabled,
		"waitlist", cfg.WaitlistEnabled,
		"portal", cfg.PortalEnabled,
	)

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
