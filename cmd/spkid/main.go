// Package main is the entry point for the spkid CLI.
//
// Usage:
//
//	spkid [flags] <command> [args]
//
// Commands:
//
//	prepare    - Extract filterbank features from raw PCM into a corpus directory
//	train      - Train a speaker classifier on a prepared corpus
//	infer      - Predict speakers for the unlabeled utterances of a corpus
//	history    - Show journaled validation results of training runs
//	config     - Show the effective configuration
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/spkid/cmd/spkid/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
