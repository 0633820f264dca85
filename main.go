// Package main provides the entry point for the 86Box memory
// subsystem tooling.
//
// For the full CLI, use: go run ./cmd/memmap
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("86Box memory subsystem")
	fmt.Println("PC-compatible RAM, ROM, MMU and dirty-tracking emulation")
	fmt.Println("")
	fmt.Println("Usage: memmap [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -mem       RAM size in KB")
	fmt.Println("  -xt        Model an XT-class machine")
	fmt.Println("  -bios      BIOS image to map below 1 MiB")
	fmt.Println("  -config    Path to cycle cost configuration JSON file")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/memmap' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/memmap' instead.")
	}
}
