// AngelaMos | 2026
// main.go

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/carterperez-dev/templates/auth-service/internal/config"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

func main() {
	size := flag.Int("bytes", 48, "random bytes in the generated secret")
	flag.Parse()

	if err := run(*size); err != nil {
		slog.Error("secretgen failed", "error", err)
		os.Exit(1)
	}
}

// run prints a JWT_SECRET line ready for a .env file.
func run(size int) error {
	if size < config.MinSecretLength {
		return fmt.Errorf("secret must be at least %d bytes", config.MinSecretLength)
	}

	secret, err := core.RandomURLToken(size)
	if err != nil {
		return err
	}

	fmt.Printf("JWT_SECRET=%s\n", secret)
	return nil
}
