// Command fosterd serves the sprite fostering API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Embedded zone data so SPRITE_TIME_ZONE resolves on minimal images.
	_ "time/tzdata"

	"github.com/R3E-Network/fosterhub/internal/app/runtime"
	"github.com/R3E-Network/fosterhub/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides "+config.ConfigPathEnv+")")
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv(config.ConfigPathEnv, *configPath); err != nil {
			log.Fatalf("set config path: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := runtime.NewApplication(ctx)
	if err != nil {
		log.Fatalf("initialise fosterd: %v", err)
	}

	runErr := app.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("fosterd: %v", runErr)
	}
}
