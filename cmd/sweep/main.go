// Command sweep runs one reconciliation sweep and exits, for deployments
// that schedule the sweep externally. With -hash-key it prints the bcrypt
// hash to put in SWEEP_KEY_HASH instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/edgepresence/internal/app"
	"github.com/prudhvinik1/edgepresence/internal/config"
	"github.com/prudhvinik1/edgepresence/internal/utils"
	"go.uber.org/zap"
)

func main() {
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of this sweep key and exit")
	flag.Parse()

	if *hashKey != "" {
		hashed, err := utils.HashSecret(*hashKey)
		if err != nil {
			log.Fatalf("Failed to hash key: %v", err)
		}
		fmt.Println(hashed)
		return
	}

	os.Exit(run())
}

func run() int {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise", zap.Error(err))
		return 1
	}
	defer a.Close()

	release, ok, err := a.Locker.Acquire(ctx)
	if err != nil {
		logger.Error("sweep lock", zap.Error(err))
		return 1
	}
	if !ok {
		logger.Info("sweep skipped, lock held elsewhere")
		return 0
	}
	defer release(context.WithoutCancel(ctx))

	if _, err := a.Sweep.Run(ctx); err != nil {
		logger.Error("sweep finished with errors", zap.Error(err))
		return 1
	}
	return 0
}
