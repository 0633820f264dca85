package mem

import "encoding/binary"

// Physical accessors bypass paging, the A20 gate and the translation
// caches. Device models and the recompiler use them for DMA and for
// inspecting guest memory. Where a chunk has directly addressable
// backing the access uses it; otherwise it goes through the owning
// region, parking the logical address so no cache insertion happens.

// ReadBytePhys reads one byte at a physical address.
func (as *AddressSpace) ReadBytePhys(addr uint32) uint8 {
	as.logicalAddr = logicalNone

	if chunk := as.execChunk[addr>>pageShift]; chunk != nil {
		return chunk[addr&0xfff]
	}
	if m := as.readMapping[addr>>pageShift]; m != nil &&
		m.region.Caps()&CapReadByte != 0 {
		return m.region.ReadByte(addr)
	}
	return 0xff
}

// ReadWordPhys reads a little-endian word at a physical address.
func (as *AddressSpace) ReadWordPhys(addr uint32) uint16 {
	as.logicalAddr = logicalNone

	if addr&0xfff <= 0xffe {
		if chunk := as.execChunk[addr>>pageShift]; chunk != nil {
			return binary.LittleEndian.Uint16(chunk[addr&0xfff:])
		}
		if m := as.readMapping[addr>>pageShift]; m != nil &&
			m.region.Caps()&CapReadWord != 0 {
			return m.region.ReadWord(addr)
		}
	}
	return uint16(as.ReadBytePhys(addr)) | uint16(as.ReadBytePhys(addr+1))<<8
}

// ReadDwordPhys reads a little-endian doubleword at a physical
// address.
func (as *AddressSpace) ReadDwordPhys(addr uint32) uint32 {
	as.logicalAddr = logicalNone

	if addr&0xfff <= 0xffc {
		if chunk := as.execChunk[addr>>pageShift]; chunk != nil {
			return binary.LittleEndian.Uint32(chunk[addr&0xfff:])
		}
		if m := as.readMapping[addr>>pageShift]; m != nil &&
			m.region.Caps()&CapReadDword != 0 {
			return m.region.ReadDword(addr)
		}
	}
	return uint32(as.ReadWordPhys(addr)) | uint32(as.ReadWordPhys(addr+2))<<16
}

// WriteBytePhys writes one byte at a physical address. Stores through
// directly addressable backing skip dirty tracking; DMA users must
// follow up with InvalidateRange.
func (as *AddressSpace) WriteBytePhys(addr uint32, val uint8) {
	as.logicalAddr = logicalNone

	if chunk := as.execChunk[addr>>pageShift]; chunk != nil {
		chunk[addr&0xfff] = val
		return
	}
	if m := as.writeMapping[addr>>pageShift]; m != nil &&
		m.region.Caps()&CapWriteByte != 0 {
		m.region.WriteByte(addr, val)
	}
}

// WriteWordPhys writes a little-endian word at a physical address.
func (as *AddressSpace) WriteWordPhys(addr uint32, val uint16) {
	as.logicalAddr = logicalNone

	if addr&0xfff <= 0xffe {
		if chunk := as.execChunk[addr>>pageShift]; chunk != nil {
			binary.LittleEndian.PutUint16(chunk[addr&0xfff:], val)
			return
		}
		if m := as.writeMapping[addr>>pageShift]; m != nil &&
			m.region.Caps()&CapWriteWord != 0 {
			m.region.WriteWord(addr, val)
			return
		}
	}
	as.WriteBytePhys(addr, uint8(val))
	as.WriteBytePhys(addr+1, uint8(val>>8))
}

// WriteDwordPhys writes a little-endian doubleword at a physical
// address.
func (as *AddressSpace) WriteDwordPhys(addr uint32, val uint32) {
	as.logicalAddr = logicalNone

	if addr&0xfff <= 0xffc {
		if chunk := as.execChunk[addr>>pageShift]; chunk != nil {
			binary.LittleEndian.PutUint32(chunk[addr&0xfff:], val)
			return
		}
		if m := as.writeMapping[addr>>pageShift]; m != nil &&
			m.region.Caps()&CapWriteDword != 0 {
			m.region.WriteDword(addr, val)
			return
		}
	}
	as.WriteWordPhys(addr, uint16(val))
	as.WriteWordPhys(addr+2, uint16(val>>16))
}

// ReadPhys copies len(dst) bytes starting at the physical address
// into dst.
func (as *AddressSpace) ReadPhys(dst []byte, addr uint32) {
	for i := range dst {
		dst[i] = as.ReadBytePhys(addr + uint32(i))
	}
}

// WritePhys copies src into physical memory starting at addr and
// reports the written range to the dirty tracker.
func (as *AddressSpace) WritePhys(addr uint32, src []byte) {
	if len(src) == 0 {
		return
	}
	for i, b := range src {
		as.WriteBytePhys(addr+uint32(i), b)
	}
	as.InvalidateRange(addr, addr+uint32(len(src))-1)
}
