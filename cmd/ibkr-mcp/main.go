package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/gateway"
)

func main() {
	cfg, err := config.Load(os.Getenv("IBKR_MCP_CONFIG"))
	if err != nil {
		// Logger is not configured yet; stderr is safe either way.
		config.InitLogger("info", "console")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, "console")

	log.Info().
		Str("mode", cfg.Connection.Mode).
		Str("host", cfg.Connection.Host).
		Int("port", cfg.Connection.Port).
		Msg("IBKR MCP Gateway starting...")

	service, err := gateway.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build gateway")
	}
	defer func() {
		if err := service.Close(); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	if err := service.Connect(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect broker session")
	}
	log.Info().Str("account", service.Session().ManagedAccount()).Msg("Broker session established")

	server := &MCPServer{service: service}
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
