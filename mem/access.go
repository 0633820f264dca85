package mem

import "encoding/binary"

// Logical accessors. Each one runs the same pipeline: misalignment
// penalty and page-cross split for the wider widths, translation
// cache probe, page table walk, A20 masking, then chunk dispatch
// with width fallback. Faulting or unmapped reads return all ones;
// faulting or unmapped writes are dropped.

func (as *AddressSpace) readWordVia(m *Mapping, phys uint32) uint16 {
	caps := m.region.Caps()
	if caps&CapReadWord != 0 {
		return m.region.ReadWord(phys)
	}
	if caps&CapReadByte != 0 {
		return uint16(m.region.ReadByte(phys)) |
			uint16(m.region.ReadByte(phys+1))<<8
	}
	return 0xffff
}

func (as *AddressSpace) readDwordVia(m *Mapping, phys uint32) uint32 {
	caps := m.region.Caps()
	if caps&CapReadDword != 0 {
		return m.region.ReadDword(phys)
	}
	if caps&CapReadWord != 0 {
		return uint32(m.region.ReadWord(phys)) |
			uint32(m.region.ReadWord(phys+2))<<16
	}
	if caps&CapReadByte != 0 {
		return uint32(m.region.ReadByte(phys)) |
			uint32(m.region.ReadByte(phys+1))<<8 |
			uint32(m.region.ReadByte(phys+2))<<16 |
			uint32(m.region.ReadByte(phys+3))<<24
	}
	return 0xffffffff
}

func (as *AddressSpace) writeWordVia(m *Mapping, phys uint32, val uint16) {
	caps := m.region.Caps()
	switch {
	case caps&CapWriteWord != 0:
		m.region.WriteWord(phys, val)
	case caps&CapWriteByte != 0:
		m.region.WriteByte(phys, uint8(val))
		m.region.WriteByte(phys+1, uint8(val>>8))
	}
}

func (as *AddressSpace) writeDwordVia(m *Mapping, phys uint32, val uint32) {
	caps := m.region.Caps()
	switch {
	case caps&CapWriteDword != 0:
		m.region.WriteDword(phys, val)
	case caps&CapWriteWord != 0:
		m.region.WriteWord(phys, uint16(val))
		m.region.WriteWord(phys+2, uint16(val>>16))
	case caps&CapWriteByte != 0:
		m.region.WriteByte(phys, uint8(val))
		m.region.WriteByte(phys+1, uint8(val>>8))
		m.region.WriteByte(phys+2, uint8(val>>16))
		m.region.WriteByte(phys+3, uint8(val>>24))
	}
}

// ReadByte reads one byte at a logical address.
func (as *AddressSpace) ReadByte(addr uint32) uint8 {
	as.logicalAddr = addr

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, false)
		if a == TranslateFault || a > 0xffffffff {
			return 0xff
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.readMapping[phys>>pageShift]; m != nil &&
		m.region.Caps()&CapReadByte != 0 {
		return m.region.ReadByte(phys)
	}
	return 0xff
}

// WriteByte writes one byte at a logical address.
func (as *AddressSpace) WriteByte(addr uint32, val uint8) {
	as.logicalAddr = addr

	if p := as.pageLookup[addr>>pageShift]; p != nil {
		as.writeRAMBytePage(addr, val, p)
		return
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, true)
		if a == TranslateFault || a > 0xffffffff {
			return
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.writeMapping[phys>>pageShift]; m != nil &&
		m.region.Caps()&CapWriteByte != 0 {
		m.region.WriteByte(phys, val)
	}
}

// ReadWord reads a little-endian word at a logical address.
func (as *AddressSpace) ReadWord(addr uint32) uint16 {
	as.logicalAddr = addr

	if addr&1 != 0 {
		if !as.config.CyrixAlignment || addr&7 == 7 {
			as.subCycles(as.config.MisalignedPenalty)
		}
		if addr&0xfff > 0xffe {
			// Crosses a page: both pages must translate before any
			// byte is read.
			if as.cpu.Paging() {
				if as.Translate(addr, false) == TranslateFault {
					return 0xffff
				}
				if as.Translate(addr+1, false) == TranslateFault {
					return 0xffff
				}
			}
			return uint16(as.ReadByte(addr)) | uint16(as.ReadByte(addr+1))<<8
		}
		if bias := as.readBias[addr>>pageShift]; bias != biasNone {
			return binary.LittleEndian.Uint16(as.ram[int64(addr)+bias:])
		}
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, false)
		if a == TranslateFault || a > 0xffffffff {
			return 0xffff
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.readMapping[phys>>pageShift]; m != nil {
		return as.readWordVia(m, phys)
	}
	return 0xffff
}

// WriteWord writes a little-endian word at a logical address.
func (as *AddressSpace) WriteWord(addr uint32, val uint16) {
	as.logicalAddr = addr

	if addr&1 != 0 {
		if !as.config.CyrixAlignment || addr&7 == 7 {
			as.subCycles(as.config.MisalignedPenalty)
		}
		if addr&0xfff > 0xffe {
			if as.cpu.Paging() {
				if as.Translate(addr, true) == TranslateFault {
					return
				}
				if as.Translate(addr+1, true) == TranslateFault {
					return
				}
			}
			as.WriteByte(addr, uint8(val))
			as.WriteByte(addr+1, uint8(val>>8))
			return
		}
		if bias := as.writeBias[addr>>pageShift]; bias != biasNone {
			binary.LittleEndian.PutUint16(as.ram[int64(addr)+bias:], val)
			return
		}
	}

	if p := as.pageLookup[addr>>pageShift]; p != nil {
		as.writeRAMWordPage(addr, val, p)
		return
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, true)
		if a == TranslateFault || a > 0xffffffff {
			return
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.writeMapping[phys>>pageShift]; m != nil {
		as.writeWordVia(m, phys, val)
	}
}

// ReadDword reads a little-endian doubleword at a logical address.
func (as *AddressSpace) ReadDword(addr uint32) uint32 {
	as.logicalAddr = addr

	if addr&3 != 0 {
		if !as.config.CyrixAlignment || addr&7 > 4 {
			as.subCycles(as.config.MisalignedPenalty)
		}
		if addr&0xfff > 0xffc {
			if as.cpu.Paging() {
				if as.Translate(addr, false) == TranslateFault {
					return 0xffffffff
				}
				if as.Translate(addr+3, false) == TranslateFault {
					return 0xffffffff
				}
			}
			return uint32(as.ReadWord(addr)) | uint32(as.ReadWord(addr+2))<<16
		}
		if bias := as.readBias[addr>>pageShift]; bias != biasNone {
			return binary.LittleEndian.Uint32(as.ram[int64(addr)+bias:])
		}
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, false)
		if a == TranslateFault || a > 0xffffffff {
			return 0xffffffff
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.readMapping[phys>>pageShift]; m != nil {
		return as.readDwordVia(m, phys)
	}
	return 0xffffffff
}

// WriteDword writes a little-endian doubleword at a logical address.
func (as *AddressSpace) WriteDword(addr uint32, val uint32) {
	as.logicalAddr = addr

	if addr&3 != 0 {
		if !as.config.CyrixAlignment || addr&7 > 4 {
			as.subCycles(as.config.MisalignedPenalty)
		}
		if addr&0xfff > 0xffc {
			if as.cpu.Paging() {
				if as.Translate(addr, true) == TranslateFault {
					return
				}
				if as.Translate(addr+3, true) == TranslateFault {
					return
				}
			}
			as.WriteWord(addr, uint16(val))
			as.WriteWord(addr+2, uint16(val>>16))
			return
		}
		if bias := as.writeBias[addr>>pageShift]; bias != biasNone {
			binary.LittleEndian.PutUint32(as.ram[int64(addr)+bias:], val)
			return
		}
	}

	if p := as.pageLookup[addr>>pageShift]; p != nil {
		as.writeRAMDwordPage(addr, val, p)
		return
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, true)
		if a == TranslateFault || a > 0xffffffff {
			return
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.writeMapping[phys>>pageShift]; m != nil {
		as.writeDwordVia(m, phys, val)
	}
}

// ReadQuad reads a little-endian quadword at a logical address.
// Misaligned quadwords always pay the penalty.
func (as *AddressSpace) ReadQuad(addr uint32) uint64 {
	as.logicalAddr = addr

	if addr&7 != 0 {
		as.subCycles(as.config.MisalignedPenalty)
		if addr&0xfff > 0xff8 {
			if as.cpu.Paging() {
				if as.Translate(addr, false) == TranslateFault {
					return ^uint64(0)
				}
				if as.Translate(addr+7, false) == TranslateFault {
					return ^uint64(0)
				}
			}
			return uint64(as.ReadDword(addr)) | uint64(as.ReadDword(addr+4))<<32
		}
		if bias := as.readBias[addr>>pageShift]; bias != biasNone {
			return binary.LittleEndian.Uint64(as.ram[int64(addr)+bias:])
		}
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, false)
		if a == TranslateFault || a > 0xffffffff {
			return ^uint64(0)
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.readMapping[phys>>pageShift]; m != nil {
		return uint64(as.readDwordVia(m, phys)) |
			uint64(as.readDwordVia(m, phys+4))<<32
	}
	return ^uint64(0)
}

// WriteQuad writes a little-endian quadword at a logical address.
func (as *AddressSpace) WriteQuad(addr uint32, val uint64) {
	as.logicalAddr = addr

	if addr&7 != 0 {
		as.subCycles(as.config.MisalignedPenalty)
		if addr&0xfff > 0xff8 {
			if as.cpu.Paging() {
				if as.Translate(addr, true) == TranslateFault {
					return
				}
				if as.Translate(addr+7, true) == TranslateFault {
					return
				}
			}
			as.WriteDword(addr, uint32(val))
			as.WriteDword(addr+4, uint32(val>>32))
			return
		}
		if bias := as.writeBias[addr>>pageShift]; bias != biasNone {
			binary.LittleEndian.PutUint64(as.ram[int64(addr)+bias:], val)
			return
		}
	}

	if p := as.pageLookup[addr>>pageShift]; p != nil {
		as.writeRAMDwordPage(addr, uint32(val), p)
		as.writeRAMDwordPage(addr+4, uint32(val>>32), p)
		return
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, true)
		if a == TranslateFault || a > 0xffffffff {
			return
		}
	}
	phys := uint32(a) & as.rammask

	if m := as.writeMapping[phys>>pageShift]; m != nil {
		as.writeDwordVia(m, phys, uint32(val))
		as.writeDwordVia(m, phys+4, uint32(val>>32))
	}
}

// PCCache returns the instruction fetch window for addr: a page-sized
// byte slice where index addr&0xfff is the addressed byte. The result
// stays valid until the next translation cache flush; on a fetch
// fault or an unmapped page it is a page of 0xff bytes. On 286-class
// machines the prefetch cost is reselected by the owning region.
func (as *AddressSpace) PCCache(addr uint32) []byte {
	if addr&^uint32(0xfff) == as.pcVirt && as.pcWindow != nil {
		return as.pcWindow
	}

	a := uint64(addr)
	if as.cpu.Paging() {
		a = as.Translate(addr, false)
		if a == TranslateFault || a > 0xffffffff {
			return as.ffPage[:]
		}
	}
	phys := uint32(a) & as.rammask

	chunk := as.execChunk[phys>>pageShift]
	if chunk == nil {
		return as.ffPage[:]
	}

	if as.config.Is286 {
		if m := as.readMapping[phys>>pageShift]; m != nil && m.flags&FlagROM != 0 {
			as.prefetchCycles = as.config.ROMPrefetch
		} else {
			as.prefetchCycles = as.config.RAMPrefetch
		}
	}

	as.pcVirt = addr &^ uint32(0xfff)
	as.pcWindow = chunk
	return chunk
}

// PrefetchCycles returns the per-fetch prefetch cost selected by the
// most recent PCCache fill.
func (as *AddressSpace) PrefetchCycles() int {
	return as.prefetchCycles
}
