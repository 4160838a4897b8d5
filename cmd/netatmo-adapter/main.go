package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/app"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/log"
	"github.com/tim-hellhake/netatmo-weather-adapter/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "netatmo-adapter.db", "Path to the SQLite configuration database")
	listenAddr := flag.String("listen-addr", "0.0.0.0:8888", "Listen address for the OAuth callback server")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("netatmo-adapter %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	store, err := openStore(*cfgFile)
	if err != nil {
		log.Errorf("Failed to open configuration store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Create and run the application
	application := app.New(store, *listenAddr, log.GetSugaredLogger())
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}

// openStore opens the SQLite config store and seeds the client credentials
// from the environment when provided
func openStore(cfgFile string) (config.Store, error) {
	filename, _ := filepath.Abs(cfgFile)

	store, err := config.NewSQLiteStore(filename)
	if err != nil {
		return nil, fmt.Errorf("error opening SQLite config store: %w", err)
	}

	seed := map[string]string{}
	if clientID := os.Getenv("NETATMO_CLIENT_ID"); clientID != "" {
		seed[config.KeyClientID] = clientID
	}
	if clientSecret := os.Getenv("NETATMO_CLIENT_SECRET"); clientSecret != "" {
		seed[config.KeyClientSecret] = clientSecret
	}
	if len(seed) > 0 {
		if err := store.Save(seed); err != nil {
			store.Close()
			return nil, fmt.Errorf("error seeding credentials: %w", err)
		}
	}

	return store, nil
}
