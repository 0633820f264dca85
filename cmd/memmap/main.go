// Package main provides a command line inspector for the emulated
// memory map: it builds an address space for a machine configuration,
// optionally loads a BIOS image, and prints the resulting mappings.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/unreal9010/86Box/mem"
	"github.com/unreal9010/86Box/timing/cost"
)

var (
	memKB      = flag.Uint("mem", 8192, "RAM size in KB")
	xt         = flag.Bool("xt", false, "Model an XT-class machine (hard 1 MiB wrap)")
	bus16      = flag.Bool("bus16", false, "Model a 16-bit bus CPU (16 MiB address space)")
	biosPath   = flag.String("bios", "", "BIOS image to map below 1 MiB")
	remapKB    = flag.Int("remap", 0, "KB of hole-shadowed RAM to remap to the top of memory")
	a20        = flag.Bool("a20", false, "Open the A20 gate")
	configPath = flag.String("config", "", "Path to cycle cost configuration JSON file")
)

func main() {
	flag.Parse()

	costConfig := cost.DefaultConfig()
	if *configPath != "" {
		loaded, err := cost.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading cost config: %v\n", err)
			os.Exit(1)
		}
		if err := loaded.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid cost config: %v\n", err)
			os.Exit(1)
		}
		costConfig = loaded
	}

	config := mem.DefaultConfig()
	config.MemKB = uint32(*memKB)
	config.IsAT = !*xt
	config.Bus16 = *bus16
	costConfig.Apply(&config)

	as := mem.New(config)

	if *biosPath != "" {
		rom, err := os.ReadFile(*biosPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading BIOS image: %v\n", err)
			os.Exit(1)
		}
		as.AddBIOS(rom)
	}

	if *remapKB > 0 {
		as.RemapTop(*remapKB)
	}
	if *a20 {
		as.SetA20Key(true)
	}

	fmt.Printf("Machine: %d KB RAM, AT=%v, 16-bit bus=%v\n",
		config.MemKB, config.IsAT, config.Bus16)
	fmt.Printf("A20 gate: %v (address mask %08x)\n\n", as.A20(), as.RAMMask())

	fmt.Println("Mappings (registration order, later wins overlap):")
	for _, m := range as.Mappings() {
		state := "enabled"
		if !m.Enabled() {
			state = "disabled"
		}
		fmt.Printf("  %08x-%08x  %-8s %s\n",
			m.Base(), uint64(m.Base())+uint64(m.Size())-1, state, flagNames(m.Flags()))
	}
}

func flagNames(flags uint32) string {
	var names []string
	if flags&mem.FlagInternal != 0 {
		names = append(names, "internal")
	}
	if flags&mem.FlagExternal != 0 {
		names = append(names, "external")
	}
	if flags&mem.FlagROM != 0 {
		names = append(names, "rom")
	}
	if flags&mem.FlagROMCS != 0 {
		names = append(names, "romcs")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
