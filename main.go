package main

import (
	"fmt"
	"os"

	"github.com/ayodele-m/fiatramp/internal/app"
)

// Kept as the root entrypoint alongside cmd/api for tooling that expects
// `go run .` at the module root.
func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}
