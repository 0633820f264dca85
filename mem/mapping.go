package mem

import "fmt"

// Mapping flag bits. A mapping is either internal (motherboard RAM),
// external (bus device), or ROM-ish; ROMCS marks chip-select gated ROM
// which several chipsets route differently from generic external memory.
const (
	FlagExternal uint32 = 1 << iota
	FlagInternal
	FlagROM
	FlagROMCS
)

// Caps describes which access widths a Region implements.
type Caps uint8

// Capability bits for Region implementations.
const (
	CapReadByte Caps = 1 << iota
	CapReadWord
	CapReadDword
	CapWriteByte
	CapWriteWord
	CapWriteDword
)

// CanRead reports whether any read width is implemented.
func (c Caps) CanRead() bool {
	return c&(CapReadByte|CapReadWord|CapReadDword) != 0
}

// CanWrite reports whether any write width is implemented.
func (c Caps) CanWrite() bool {
	return c&(CapWriteByte|CapWriteWord|CapWriteDword) != 0
}

// Region services byte, word and doubleword accesses for a Mapping.
// Addresses passed to the accessors are absolute physical addresses.
// A region only needs to implement the widths reported by Caps; the
// dispatcher splits wider accesses into narrower ones.
type Region interface {
	Caps() Caps
	ReadByte(addr uint32) uint8
	ReadWord(addr uint32) uint16
	ReadDword(addr uint32) uint32
	WriteByte(addr uint32, val uint8)
	WriteWord(addr uint32, val uint16)
	WriteDword(addr uint32, val uint32)
}

// RegionFuncs adapts a set of optional accessor functions into a Region.
// A nil function means the width is not implemented.
type RegionFuncs struct {
	ReadB  func(addr uint32) uint8
	ReadW  func(addr uint32) uint16
	ReadL  func(addr uint32) uint32
	WriteB func(addr uint32, val uint8)
	WriteW func(addr uint32, val uint16)
	WriteL func(addr uint32, val uint32)
}

// Caps reports a capability bit for every non-nil accessor.
func (r *RegionFuncs) Caps() Caps {
	var c Caps
	if r.ReadB != nil {
		c |= CapReadByte
	}
	if r.ReadW != nil {
		c |= CapReadWord
	}
	if r.ReadL != nil {
		c |= CapReadDword
	}
	if r.WriteB != nil {
		c |= CapWriteByte
	}
	if r.WriteW != nil {
		c |= CapWriteWord
	}
	if r.WriteL != nil {
		c |= CapWriteDword
	}
	return c
}

// ReadByte implements Region.
func (r *RegionFuncs) ReadByte(addr uint32) uint8 { return r.ReadB(addr) }

// ReadWord implements Region.
func (r *RegionFuncs) ReadWord(addr uint32) uint16 { return r.ReadW(addr) }

// ReadDword implements Region.
func (r *RegionFuncs) ReadDword(addr uint32) uint32 { return r.ReadL(addr) }

// WriteByte implements Region.
func (r *RegionFuncs) WriteByte(addr uint32, val uint8) { r.WriteB(addr, val) }

// WriteWord implements Region.
func (r *RegionFuncs) WriteWord(addr uint32, val uint16) { r.WriteW(addr, val) }

// WriteDword implements Region.
func (r *RegionFuncs) WriteDword(addr uint32, val uint32) { r.WriteL(addr, val) }

// A Mapping is one registered memory region. Mappings are linked into
// the address space in registration order; when mappings overlap, the
// one registered last wins, mirroring bus arbitration by the most
// recently decoded chipset function.
type Mapping struct {
	as      *AddressSpace
	base    uint32
	size    uint32
	enabled bool
	flags   uint32
	region  Region
	exec    []byte
}

// Base returns the mapping's physical base address.
func (m *Mapping) Base() uint32 { return m.base }

// Size returns the mapping's size in bytes.
func (m *Mapping) Size() uint32 { return m.size }

// Flags returns the mapping's flag bits.
func (m *Mapping) Flags() uint32 { return m.flags }

// Enabled reports whether the mapping currently takes part in dispatch.
func (m *Mapping) Enabled() bool { return m.enabled }

// AddMapping registers a region at [base, base+size) and rebuilds the
// dispatch tables for that range. A zero size leaves the mapping
// disabled. exec, when non-nil, is the directly addressable backing
// store used for instruction fetch and physical fast-path access;
// exec[i] must correspond to physical address base+i.
func (as *AddressSpace) AddMapping(base, size uint32, region Region, exec []byte, flags uint32) *Mapping {
	m := &Mapping{
		as:      as,
		base:    base,
		size:    size,
		enabled: size > 0,
		flags:   flags,
		region:  region,
		exec:    exec,
	}
	as.mappings = append(as.mappings, m)
	as.recalc(uint64(base), uint64(size))
	return m
}

// DelMapping disables a mapping and unlinks it from the registry.
func (as *AddressSpace) DelMapping(m *Mapping) {
	m.Disable()
	for i, other := range as.mappings {
		if other == m {
			as.mappings = append(as.mappings[:i], as.mappings[i+1:]...)
			break
		}
	}
}

// Enable puts the mapping back into dispatch.
func (m *Mapping) Enable() {
	m.enabled = true
	m.as.recalc(uint64(m.base), uint64(m.size))
}

// Disable removes the mapping from dispatch without unregistering it.
func (m *Mapping) Disable() {
	m.enabled = false
	m.as.recalc(uint64(m.base), uint64(m.size))
}

// SetAddr relocates the mapping, rebuilding dispatch for both the old
// and the new range. A zero size leaves the mapping disabled, as with
// AddMapping.
func (m *Mapping) SetAddr(base, size uint32) {
	m.enabled = false
	m.as.recalc(uint64(m.base), uint64(m.size))

	m.enabled = size > 0
	m.base = base
	m.size = size
	m.as.recalc(uint64(m.base), uint64(m.size))
}

// SetRegion rebinds the mapping's accessors.
func (m *Mapping) SetRegion(r Region) {
	m.region = r
	m.as.recalc(uint64(m.base), uint64(m.size))
}

// SetExec rebinds the mapping's direct backing store.
func (m *Mapping) SetExec(exec []byte) {
	m.exec = exec
	m.as.recalc(uint64(m.base), uint64(m.size))
}

// Memory state policies. Each 4 KiB chunk carries a read policy in
// bits 0-2 and a write policy in bits 4-6; bits 8-14 hold the same
// pair for system management mode. Policy decides which mapping
// flavors are visible, independent of whether a mapping is present.
const (
	MemReadDisabled uint16 = 0x00
	MemReadInternal uint16 = 0x01
	// External or unclaimed mappings without ROMCS.
	MemReadExternal uint16 = 0x02
	// External or unclaimed mappings with ROMCS.
	MemReadROMCS uint16 = 0x03
	// Any external mapping.
	MemReadExtAny uint16 = 0x04
	// External for fetches, any non-internal for data reads.
	MemReadExternalEx uint16 = 0x05
	MemReadAny        uint16 = 0x06
	// SMM slot only: defer to the non-SMM policy.
	MemReadNormal uint16 = 0x07
	MemReadMask   uint16 = 0x07

	MemWriteDisabled uint16 = 0x00
	MemWriteInternal uint16 = 0x10
	MemWriteExternal uint16 = 0x20
	MemWriteROMCS    uint16 = 0x30
	MemWriteExtAny   uint16 = 0x40
	MemWriteAny      uint16 = 0x60
	MemWriteNormal   uint16 = 0x70
	MemWriteMask     uint16 = 0x70
)

const memStateSMMShift = 8

// memStateDefaultSMM leaves both SMM policies deferring to normal mode.
const memStateDefaultSMM = (MemReadNormal | MemWriteNormal) << memStateSMMShift

func (as *AddressSpace) readAllowed(flags uint32, state uint16, exec bool) bool {
	smm := state >> memStateSMMShift
	if as.cpu.InSMM() && (smm&MemReadMask) != MemReadNormal {
		state = smm
	}

	switch state & MemReadMask {
	case MemReadDisabled:
		return false
	case MemReadAny:
		return true
	case MemReadExternal:
		return flags&FlagInternal == 0 && flags&FlagROMCS == 0
	case MemReadROMCS:
		return flags&FlagInternal == 0 && flags&FlagROMCS != 0
	case MemReadExtAny:
		return flags&FlagInternal == 0
	case MemReadExternalEx:
		if exec {
			return flags&FlagExternal == 0
		}
		return flags&FlagInternal == 0
	case MemReadInternal:
		return flags&FlagExternal == 0
	default:
		panic(fmt.Sprintf("mem: bad read state %#x", state))
	}
}

func (as *AddressSpace) writeAllowed(flags uint32, state uint16) bool {
	smm := state >> memStateSMMShift
	if as.cpu.InSMM() && (smm&MemWriteMask) != MemWriteNormal {
		state = smm
	}

	switch state & MemWriteMask {
	case MemWriteDisabled:
		return false
	case MemWriteAny:
		return true
	case MemWriteExternal:
		return flags&FlagInternal == 0 && flags&FlagROMCS == 0
	case MemWriteROMCS:
		return flags&FlagInternal == 0 && flags&FlagROMCS != 0
	case MemWriteExtAny:
		return flags&FlagInternal == 0
	case MemWriteInternal:
		return flags&FlagExternal == 0
	default:
		panic(fmt.Sprintf("mem: bad write state %#x", state))
	}
}

func (as *AddressSpace) setMemStateCommon(smm bool, base, size uint32, state uint16) {
	for c := uint64(0); c < uint64(size); c += PageSize {
		idx := (c + uint64(base)) >> pageShift
		if idx >= chunkCount {
			break
		}
		if smm {
			as.memState[idx] = as.memState[idx]&0x00ff | (state&0xff)<<memStateSMMShift
		} else {
			as.memState[idx] = as.memState[idx]&0xff00 | state&0xff
		}
	}

	as.recalc(uint64(base), uint64(size))
}

// SetMemState sets the visibility policy for every chunk in
// [base, base+size) and rebuilds dispatch for the range.
func (as *AddressSpace) SetMemState(base, size uint32, state uint16) {
	as.setMemStateCommon(false, base, size, state)
}

// SetMemStateSMM sets the system-management-mode visibility policy for
// every chunk in [base, base+size).
func (as *AddressSpace) SetMemStateSMM(base, size uint32, state uint16) {
	as.setMemStateCommon(true, base, size, state)
}

// recalc rebuilds the chunk dispatch tables for [base, base+size).
// Mappings are applied in registration order so that the last
// registered mapping owns any overlap. Each rebuild invalidates the
// translation caches: any cached host window may alias a chunk whose
// owner just changed.
func (as *AddressSpace) recalc(base, size uint64) {
	if size == 0 {
		return
	}

	for c := base; c < base+size; c += PageSize {
		idx := c >> pageShift
		if idx >= chunkCount {
			break
		}
		as.readMapping[idx] = nil
		as.writeMapping[idx] = nil
		as.execChunk[idx] = nil
	}

	for _, m := range as.mappings {
		if !m.enabled {
			continue
		}
		mb := uint64(m.base)
		me := mb + uint64(m.size)
		if mb >= base+size || me <= base {
			continue
		}

		start := max(mb, base)
		end := min(me, base+size)

		var caps Caps
		if m.region != nil {
			caps = m.region.Caps()
		}

		for c := start; c < end; c += PageSize {
			idx := c >> pageShift
			if idx >= chunkCount {
				break
			}
			state := as.memState[idx]
			if caps.CanRead() && as.readAllowed(m.flags, state, false) {
				as.readMapping[idx] = m
			}
			if m.exec != nil && as.readAllowed(m.flags, state, true) {
				if off := c - mb; off+PageSize <= uint64(len(m.exec)) {
					as.execChunk[idx] = m.exec[off : off+PageSize]
				}
			}
			if caps.CanWrite() && as.writeAllowed(m.flags, state) {
				as.writeMapping[idx] = m
			}
		}
	}

	as.flushTLBs()
}

// Recalc rebuilds dispatch for an arbitrary physical range. Device
// models normally never need it; the CPU core calls it (via RecalcAll)
// when entering or leaving system management mode, since SMM changes
// which policies apply.
func (as *AddressSpace) Recalc(base, size uint32) {
	as.recalc(uint64(base), uint64(size))
}

// RecalcAll rebuilds the whole dispatch table.
func (as *AddressSpace) RecalcAll() {
	as.recalc(0, 1<<32)
}

// Mappings returns the registered mappings in registration order.
func (as *AddressSpace) Mappings() []*Mapping {
	out := make([]*Mapping, len(as.mappings))
	copy(out, as.mappings)
	return out
}

// IsROMCS reports whether the mapping currently owning addr for the
// given access direction is chip-select gated ROM.
func (as *AddressSpace) IsROMCS(addr uint32, write bool) bool {
	var m *Mapping
	if write {
		m = as.writeMapping[addr>>pageShift]
	} else {
		m = as.readMapping[addr>>pageShift]
	}
	if m == nil {
		return false
	}
	return m.flags&FlagROMCS != 0
}

// AddrIsRAM reports whether addr is currently owned by one of the
// internal RAM mappings. The JIT uses this to decide whether a chunk
// is backed by directly addressable memory.
func (as *AddressSpace) AddrIsRAM(addr uint32) bool {
	m := as.readMapping[addr>>pageShift]
	return m != nil && (m == as.ramLow || m == as.ramMid || m == as.ramHigh || m == as.ramRemapped)
}
