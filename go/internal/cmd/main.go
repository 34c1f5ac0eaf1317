package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("pointing failed")
		os.Exit(1)
	}
}
