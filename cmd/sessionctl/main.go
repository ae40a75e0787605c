package main

import (
	"fmt"
	"os"

	"github.com/fitpulse/session-service/internal/tools/sessionctl"
)

func main() {
	if err := sessionctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
