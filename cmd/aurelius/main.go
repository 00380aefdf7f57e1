// Package main provides the aurelius CLI.
//
// Usage:
//
//	aurelius calibrate [--out file] [--simulate dB] [--output wav]
//	aurelius run <profile|s3://key> --input wav [--output wav] [--listen addr]
//	aurelius profile show <profile|s3://key>
//	aurelius profile delete <profile|s3://key>
//
// Configuration is read from .env.<ENVIRONMENT> and environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/RMahshie/aurelius/cmd/aurelius/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(commands.ExitCode(err))
	}
}
