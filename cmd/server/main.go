package main

import (
	"github.com/rs/zerolog/log"

	"notice-engine/internal/app/server"
	"notice-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)

	if err := server.Run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
