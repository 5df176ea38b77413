package main

import (
	"fmt"
	"os"

	"github.com/tillberg/autorestart"

	"github.com/deskline/deskline/internal/cli"
)

func main() {
	// Development builds restart themselves when the binary is rebuilt.
	if os.Getenv("DESKLINE_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
