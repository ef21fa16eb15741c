// Package main is the entry point for the openl3 CLI.
//
// Usage:
//
//	openl3 [flags] <command> [args]
//
// Commands:
//
//	embed      - Write per-frame embeddings for audio files as .npz archives
//	summarize  - Write one averaged embedding line per file
//	download   - Fetch and unpack pretrained weight files
package main

import (
	"fmt"
	"os"

	"github.com/RyanBlaney/sonido-embed/cmd/openl3/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
