package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/animus-labs/simgate/internal/spec"
)

func main() {
	_ = godotenv.Load()
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var malformed *spec.MalformedSpecError
		if errors.As(err, &malformed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
