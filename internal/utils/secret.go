package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost   = 12
	SecretLength = 16
)

// HashSecret returns the bcrypt hash stored in SWEEP_KEY_HASH.
func HashSecret(secret string) (string, error) {
	if len(secret) < SecretLength {
		return "", fmt.Errorf("secret must be at least %d characters long", SecretLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckSecret(hashedSecret string, secret string) bool {
	if hashedSecret == "" || secret == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(secret))
	return err == nil
}
