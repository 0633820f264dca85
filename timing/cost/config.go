package cost

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/unreal9010/86Box/mem"
)

// Config holds the cycle charges of the memory subsystem. Values
// model a generic 486-class core; boards with different bus timing
// load their own table.
type Config struct {
	// MisalignedPenalty is the extra cost of an access that is not
	// naturally aligned. Default: 4 cycles.
	MisalignedPenalty int `json:"misaligned_penalty"`

	// TLBInsertPenalty is the cost of the page table walk charged
	// when a translation enters the lookaside cache. Default: 9
	// cycles.
	TLBInsertPenalty int `json:"tlb_insert_penalty"`

	// RAMPrefetch is the 286-class instruction prefetch cost when
	// fetching from RAM. Default: 2 cycles.
	RAMPrefetch int `json:"ram_prefetch"`

	// ROMPrefetch is the 286-class instruction prefetch cost when
	// fetching from ROM. Default: 4 cycles.
	ROMPrefetch int `json:"rom_prefetch"`
}

// DefaultConfig returns the generic 486-class charge table.
func DefaultConfig() *Config {
	return &Config{
		MisalignedPenalty: 4,
		TLBInsertPenalty:  9,
		RAMPrefetch:       2,
		ROMPrefetch:       4,
	}
}

// LoadConfig loads a Config from a JSON file. Fields absent from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cost config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse cost config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cost config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cost config file: %w", err)
	}

	return nil
}

// Validate checks that no charge is negative.
func (c *Config) Validate() error {
	if c.MisalignedPenalty < 0 {
		return fmt.Errorf("misaligned_penalty must be >= 0")
	}
	if c.TLBInsertPenalty < 0 {
		return fmt.Errorf("tlb_insert_penalty must be >= 0")
	}
	if c.RAMPrefetch < 0 {
		return fmt.Errorf("ram_prefetch must be >= 0")
	}
	if c.ROMPrefetch < 0 {
		return fmt.Errorf("rom_prefetch must be >= 0")
	}
	return nil
}

// Apply copies the charge table into a memory configuration.
func (c *Config) Apply(mc *mem.Config) {
	mc.MisalignedPenalty = c.MisalignedPenalty
	mc.TLBInsertPenalty = c.TLBInsertPenalty
	mc.RAMPrefetch = c.RAMPrefetch
	mc.ROMPrefetch = c.ROMPrefetch
}
