// Package mem implements the memory subsystem of a PC-compatible
// system emulator: RAM and ROM buffers, the region mapping registry
// with its per-chunk dispatch tables, the x86 page-table walkers
// (non-PAE and PAE), the translation lookaside caches, and the
// physical page table with the dirty tracking an external recompiler
// relies on for invalidation.
package mem

import "math"

// Page geometry. Chunk dispatch uses the same 4 KiB granularity as
// the page table, so a dispatch chunk is exactly one physical page.
const (
	PageSize  = 4096
	pageShift = 12

	// chunkCount covers the full 32-bit physical address space.
	chunkCount = 1 << (32 - pageShift)
)

// Sub-page dirty tracking granularity: one bit per 64-byte block,
// 64 blocks per page, plus a one-bit-per-byte mask for precise
// recompiler invalidation.
const (
	blockShift = 6
	blockMask  = 63
)

// biasNone marks an empty translation cache slot.
const biasNone = math.MinInt64

// tlbSlotEmpty marks an unused ring slot.
const tlbSlotEmpty = ^uint32(0)

// logicalNone is the in-flight logical address during physical-path
// accesses; the cache fill hooks skip it.
const logicalNone = ^uint32(0)

// NoRecompilePage is returned by CodeGen.RecompilePage when the
// recompiler is idle.
const NoRecompilePage = ^uint32(0)

// CPU exposes the control state the memory subsystem consults on
// every translated access, and the sink architectural page faults
// are delivered to. The CPU core owns CR0/CR2/CR3/CR4 and the
// privilege level; this package never stores them.
type CPU interface {
	// Paging reports CR0.PG.
	Paging() bool
	// PAE reports CR4.PAE.
	PAE() bool
	// PSE reports CR4.PSE (4 MiB page support in non-PAE mode).
	PSE() bool
	// WriteProtect reports CR0.WP.
	WriteProtect() bool
	// CR3 returns the page directory base register.
	CR3() uint32
	// CPL returns the current privilege level (0-3).
	CPL() uint8
	// CPLOverride reports that the current access should be treated
	// as supervisor regardless of CPL (used around task switches).
	CPLOverride() bool
	// InSMM reports whether the CPU executes in system management
	// mode, which selects the SMM visibility policies.
	InSMM() bool

	// PageFault delivers an architectural page fault. The cause uses
	// the x86 error-code encoding: bit 0 set when the fault was a
	// protection violation (the entry was present), bit 1 set on
	// writes, bit 2 set for user-mode accesses. The CPU records
	// linear in CR2 and aborts the current instruction.
	PageFault(linear uint32, cause uint8)
	// Aborted reports a pending fault; the walkers short-circuit
	// while one is outstanding.
	Aborted() bool
}

// CodeGen is the external recompiler's view consulted on write-path
// cache fills: pages being recompiled must take the slow write path
// so every store is observed.
type CodeGen interface {
	// InRecompile reports that the recompiler is mid-translation,
	// which forces unconditional dirty marking.
	InRecompile() bool
	// RecompilePage returns the physical page currently being
	// recompiled, or NoRecompilePage.
	RecompilePage() uint32
}

// CycleSink receives cycle charges for accesses that carry a timing
// cost: misaligned accesses and translation cache insertions.
type CycleSink interface {
	SubCycles(n int)
}

// Config holds the machine-level settings of an address space.
type Config struct {
	// MemKB is the RAM size in KiB.
	MemKB uint32

	// IsAT selects AT-class address decode: A20 gate wiring and
	// high BIOS aliasing. False models an 8088/86 machine with a
	// hard 1 MiB wraparound.
	IsAT bool

	// Bus16 marks a 16-bit bus CPU (286/386SX class) with a 16 MiB
	// physical address space.
	Bus16 bool

	// Is286 enables prefetch cycle accounting on instruction fetch.
	Is286 bool

	// Is486 sizes the page table for the full 4 GiB space, needed
	// when BIOS executes at the top of the address space.
	Is486 bool

	// CyrixAlignment relaxes the misalignment penalty the way Cyrix
	// cores do: only accesses straddling an 8-byte boundary pay it.
	CyrixAlignment bool

	// TLBSize is the translation cache capacity. Must be a power of
	// two; 0 selects the default of 256 entries.
	TLBSize int

	// MisalignedPenalty is the cycle charge for a misaligned access.
	MisalignedPenalty int

	// TLBInsertPenalty is the cycle charge for a translation cache
	// insertion.
	TLBInsertPenalty int

	// RAMPrefetch and ROMPrefetch are the 286 instruction prefetch
	// charges selected by the owning region of the fetched page.
	RAMPrefetch int
	ROMPrefetch int
}

// DefaultConfig returns the settings of a generic 8 MiB AT machine.
func DefaultConfig() Config {
	return Config{
		MemKB:             8192,
		IsAT:              true,
		TLBSize:           256,
		MisalignedPenalty: 4,
		TLBInsertPenalty:  9,
		RAMPrefetch:       2,
		ROMPrefetch:       4,
	}
}

// AddressSpace owns all memory state of one emulated machine: the
// RAM buffer, the mapping registry and its derived dispatch tables,
// the page table and the translation caches. Multiple instances are
// fully independent.
type AddressSpace struct {
	config  Config
	cpu     CPU
	codegen CodeGen
	cycles  CycleSink

	ram     []byte
	rammask uint32

	// logicalAddr tracks the logical address of the access in
	// flight; the RAM accessors use it to key cache insertions.
	// Physical accessors park it at the sentinel so no insertion
	// happens.
	logicalAddr uint32

	mappings     []*Mapping
	readMapping  []*Mapping
	writeMapping []*Mapping
	execChunk    [][]byte
	memState     []uint16

	pages           []Page
	pageLookup      []*Page
	byteDirty       []uint64
	byteCodePresent []uint64

	readLookup     []uint32
	readLookupPerm []uint8
	readNext       int
	readBias       []int64

	writeLookup     []uint32
	writeLookupPerm []uint8
	writeNext       int
	writeBias       []int64

	tlbMask int

	pcVirt         uint32
	pcWindow       []byte
	ffPage         [PageSize]byte
	prefetchCycles int

	evictHead      uint32
	purgeableCount int

	flushCount uint64

	a20Key   bool
	a20Alt   bool
	a20State bool

	// lastPerm captures the user bit of the most recent successful
	// translation; cache insertion consumes it immediately after
	// the walk.
	lastPerm uint8

	ramLow      *Mapping
	ramMid      *Mapping
	ramHigh     *Mapping
	ramRemapped *Mapping
	biosLow     *Mapping
	biosHigh    *Mapping
}

// Option configures an AddressSpace.
type Option func(*AddressSpace)

// WithCPU connects the CPU control state and fault sink. Without it
// the address space behaves as a flat real-mode machine.
func WithCPU(cpu CPU) Option {
	return func(as *AddressSpace) {
		as.cpu = cpu
	}
}

// WithCodeGen connects the external recompiler.
func WithCodeGen(cg CodeGen) Option {
	return func(as *AddressSpace) {
		as.codegen = cg
	}
}

// WithCycleSink connects a cycle accounting sink.
func WithCycleSink(sink CycleSink) Option {
	return func(as *AddressSpace) {
		as.cycles = sink
	}
}

// flatCPU is the default control state: paging off, supervisor,
// never faulting. It stands in for the CPU core in real-mode-only
// setups and tests.
type flatCPU struct{}

func (flatCPU) Paging() bool                  { return false }
func (flatCPU) PAE() bool                     { return false }
func (flatCPU) PSE() bool                     { return false }
func (flatCPU) WriteProtect() bool            { return false }
func (flatCPU) CR3() uint32                   { return 0 }
func (flatCPU) CPL() uint8                    { return 0 }
func (flatCPU) CPLOverride() bool             { return false }
func (flatCPU) InSMM() bool                   { return false }
func (flatCPU) PageFault(uint32, uint8)       {}
func (flatCPU) Aborted() bool                 { return false }

// New creates an address space and performs the initial reset.
func New(config Config, opts ...Option) *AddressSpace {
	if config.TLBSize == 0 {
		config.TLBSize = 256
	}
	if config.TLBSize&(config.TLBSize-1) != 0 {
		panic("mem: TLB size must be a power of two")
	}

	as := &AddressSpace{
		config: config,
		cpu:    flatCPU{},

		readMapping:  make([]*Mapping, chunkCount),
		writeMapping: make([]*Mapping, chunkCount),
		execChunk:    make([][]byte, chunkCount),
		memState:     make([]uint16, chunkCount),

		pageLookup: make([]*Page, chunkCount),
		readBias:   make([]int64, chunkCount),
		writeBias:  make([]int64, chunkCount),

		tlbMask: config.TLBSize - 1,
	}

	as.readLookup = make([]uint32, config.TLBSize)
	as.readLookupPerm = make([]uint8, config.TLBSize)
	as.writeLookup = make([]uint32, config.TLBSize)
	as.writeLookupPerm = make([]uint8, config.TLBSize)

	for i := range as.ffPage {
		as.ffPage[i] = 0xff
	}

	for _, opt := range opts {
		opt(as)
	}

	as.Reset()

	return as
}

// Config returns the machine configuration.
func (as *AddressSpace) Config() Config {
	return as.config
}

// RAM returns the backing RAM buffer. DMA-capable device models may
// read it directly but must report writes through InvalidateRange.
func (as *AddressSpace) RAM() []byte {
	return as.ram
}

// pageTableSize returns the page table length for the configured
// machine. AT machines get at least the space BIOS shadowing and
// top-of-memory remapping can touch; 486 boards execute BIOS at the
// top of the 4 GiB space and need the full table.
func (as *AddressSpace) pageTableSize() uint32 {
	if !as.config.IsAT {
		return 256
	}
	if as.config.Bus16 {
		return 4096
	}
	if as.config.Is486 {
		return chunkCount
	}
	n := (as.config.MemKB + 384) >> 2
	if n<<2 < as.config.MemKB+384 {
		n++
	}
	if n < 4096 {
		n = 4096
	}
	return n
}

// Reset reallocates RAM and the page table for the configured memory
// size and rebuilds the power-on mapping set: low RAM, upper memory
// area, high RAM and the (initially disabled) top-of-memory remap.
// Device mappings registered before the reset are dropped.
func (as *AddressSpace) Reset() {
	memBytes := uint64(as.config.MemKB) * 1024
	as.ram = make([]byte, memBytes)

	pagesSz := as.pageTableSize()
	as.pages = make([]Page, pagesSz)

	ramPages := uint32(memBytes >> pageShift)
	as.byteDirty = make([]uint64, uint64(ramPages)*64)
	as.byteCodePresent = make([]uint64, uint64(ramPages)*64)

	for i := range as.pages {
		p := &as.pages[i]
		p.idx = uint32(i)
		p.evictPrev = evictNone
		p.evictNext = evictNone
		if uint32(i) < ramPages {
			p.mem = as.ram[i<<pageShift : (i+1)<<pageShift : (i+1)<<pageShift]
			p.byteDirtyMask = as.byteDirty[i*64 : (i+1)*64]
			p.byteCodePresentMask = as.byteCodePresent[i*64 : (i+1)*64]
		}
	}

	as.evictHead = evictNone
	as.purgeableCount = 0

	for i := range as.readMapping {
		as.readMapping[i] = nil
		as.writeMapping[i] = nil
		as.execChunk[i] = nil
	}
	for i := range as.memState {
		as.memState[i] = memStateDefaultSMM
	}
	as.mappings = as.mappings[:0]

	as.resetLookup()

	lowSize := uint32(0xa0000)
	if as.config.MemKB <= 640 {
		lowSize = as.config.MemKB * 1024
	}

	as.SetMemState(0, lowSize, MemReadInternal|MemWriteInternal)
	as.SetMemState(0xa0000, 0x60000, MemReadExternal|MemWriteExternal)

	as.ramLow = as.AddMapping(0, lowSize, &ramRegion{as: as}, as.ram, FlagInternal)

	if as.config.MemKB > 1024 {
		highKB := as.config.MemKB - 1024
		if as.config.Bus16 && as.config.MemKB > 16256 {
			highKB = 16256 - 1024
		}
		as.SetMemState(0x100000, highKB*1024, MemReadInternal|MemWriteInternal)
		as.ramHigh = as.AddMapping(0x100000, highKB*1024,
			&ramRegion{as: as}, as.ram[0x100000:], FlagInternal)
	} else {
		as.ramHigh = nil
	}

	if as.config.MemKB > 768 {
		as.ramMid = as.AddMapping(0xa0000, 0x60000,
			&ramRegion{as: as}, as.ram[0xa0000:], FlagInternal)
	} else {
		as.ramMid = nil
	}

	var remapExec []byte
	if memBytes > 0xa0000 {
		remapExec = as.ram[0xa0000:]
	}
	as.ramRemapped = as.AddMapping(as.config.MemKB*1024, 256*1024,
		&remappedRegion{as: as}, remapExec, FlagInternal)
	as.ramRemapped.Disable()

	as.a20Init()
}

// ResetPageBlocks clears all recompiler residency state: code-present
// masks, evict list membership and the per-page dirty masks derived
// from them stay behind on a recompiler reset.
func (as *AddressSpace) ResetPageBlocks() {
	for i := range as.pages {
		p := &as.pages[i]
		p.codeResident = false
		p.codePresentMask = 0
		for j := range p.byteCodePresentMask {
			p.byteCodePresentMask[j] = 0
		}
		p.evictPrev = evictNone
		p.evictNext = evictNone
	}
	as.evictHead = evictNone
	as.purgeableCount = 0
}

func (as *AddressSpace) subCycles(n int) {
	if as.cycles != nil && n != 0 {
		as.cycles.SubCycles(n)
	}
}

// PageFor returns the physical page table entry covering addr, or
// nil when addr is beyond the table.
func (as *AddressSpace) PageFor(addr uint32) *Page {
	idx := addr >> pageShift
	if idx >= uint32(len(as.pages)) {
		return nil
	}
	return &as.pages[idx]
}
