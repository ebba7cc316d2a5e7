// Package main provides the entry point for the vetrail CLI.
package main

import (
	"fmt"
	"os"

	"github.com/vetrail/vetrail/cmd/vetrail/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
