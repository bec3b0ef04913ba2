// Command token prints a signed bearer token for a user, for service
// clients and local development. It signs with JWT_SECRET and JWT_EXPIRY.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prudhvinik1/edgepresence/internal/config"
	"github.com/prudhvinik1/edgepresence/internal/services"
)

func main() {
	userFlag := flag.String("user", "", "user id (uuid); a random one when empty")
	deviceFlag := flag.String("device", "", "optional device_id claim")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
	}

	tokens := services.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	token, expiresAt, err := tokens.Issue(userID, *deviceFlag)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("user_id=%s\nexpires_at=%s\n%s\n", userID, expiresAt.UTC().Format(time.RFC3339), token)
}
