// genkey generates the secrets Kiroku needs to run with auth enabled.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Prints a KIROKU_API_KEY and KIROKU_JWT_SECRET pair suitable for pasting
// into a .env file. The JWT secret must stay stable across restarts or every
// issued token is invalidated; generate once and persist.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

func main() {
	apiKey, err := randomHex(32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate api key: %v\n", err)
		os.Exit(1)
	}
	jwtSecret, err := randomHex(32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate jwt secret: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("KIROKU_API_KEY=%s\n", apiKey)
	fmt.Printf("KIROKU_JWT_SECRET=%s\n", jwtSecret)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
