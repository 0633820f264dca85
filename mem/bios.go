package mem

import "encoding/binary"

// biosRegion serves a ROM image. The image repeats through its
// mapped range via address masking, so a 64K image mapped high is
// mirrored the way real flash decoding mirrors it. Writes land in
// the ROM's write mapping (so chip selects resolve) but change
// nothing.
type biosRegion struct {
	rom  []byte
	mask uint32
}

func (r *biosRegion) Caps() Caps {
	return CapReadByte | CapReadWord | CapReadDword |
		CapWriteByte | CapWriteWord | CapWriteDword
}

func (r *biosRegion) ReadByte(addr uint32) uint8 {
	return r.rom[addr&r.mask]
}

func (r *biosRegion) ReadWord(addr uint32) uint16 {
	off := addr & r.mask
	if int(off)+1 < len(r.rom) {
		return binary.LittleEndian.Uint16(r.rom[off:])
	}
	return uint16(r.ReadByte(addr)) | uint16(r.ReadByte(addr+1))<<8
}

func (r *biosRegion) ReadDword(addr uint32) uint32 {
	off := addr & r.mask
	if int(off)+3 < len(r.rom) {
		return binary.LittleEndian.Uint32(r.rom[off:])
	}
	return uint32(r.ReadWord(addr)) | uint32(r.ReadWord(addr+2))<<16
}

func (r *biosRegion) WriteByte(uint32, uint8)   {}
func (r *biosRegion) WriteWord(uint32, uint16)  {}
func (r *biosRegion) WriteDword(uint32, uint32) {}

// AddBIOS maps a system ROM image below 1 MiB and, on AT machines,
// aliases it at the top of the address space (top of 16 MiB on
// 16-bit bus CPUs). The image size must be a power of two. Images of
// 256 KiB and up only expose their top 128 KiB low.
func (as *AddressSpace) AddBIOS(rom []byte) {
	if len(rom) == 0 || len(rom)&(len(rom)-1) != 0 {
		panic("mem: BIOS image size must be a power of two")
	}
	mask := uint32(len(rom) - 1)
	size := uint32(len(rom))
	base := uint32(0x100000) - size
	region := &biosRegion{rom: rom, mask: mask}
	flags := FlagExternal | FlagROM | FlagROMCS

	if mask > 0x1ffff {
		as.biosLow = as.AddMapping(0xe0000, 0x20000, region, rom[size-0x20000:], flags)
		as.SetMemState(0xe0000, 0x20000, MemReadROMCS|MemWriteROMCS)
	} else {
		as.biosLow = as.AddMapping(base, size, region, rom, flags)
		as.SetMemState(base, size, MemReadROMCS|MemWriteROMCS)
	}

	if as.config.IsAT {
		high := base | 0xfff00000
		if as.config.Bus16 {
			high = base | 0x00f00000
		}
		as.biosHigh = as.AddMapping(high, size, region, rom, flags)
		as.SetMemState(high, size, MemReadROMCS|MemWriteROMCS)
	} else {
		as.biosHigh = nil
	}
}

// RemapTop moves up to kb KiB of the RAM shadowed by the 640K-1M
// hole to the top of memory, re-aliasing the affected page table
// entries onto the hole's backing so dirty tracking follows the
// data. kb of 0 disables an earlier remap. No-op on machines with
// 640 KiB or less.
func (as *AddressSpace) RemapTop(kb int) {
	if as.config.MemKB <= 640 {
		return
	}
	if kb == 0 {
		as.ramRemapped.Disable()
		return
	}

	startKB := as.config.MemKB
	if startKB < 1024 {
		startKB = 1024
	}
	sizeKB := as.config.MemKB - 640
	if sizeKB > uint32(kb) {
		sizeKB = uint32(kb)
	}

	firstPage := (startKB * 1024) >> pageShift
	srcPage := uint32(0xa0000) >> pageShift
	n := (sizeKB * 1024) >> pageShift
	for i := uint32(0); i < n; i++ {
		idx := firstPage + i
		if idx >= uint32(len(as.pages)) {
			break
		}
		src := srcPage + i
		p := &as.pages[idx]
		p.mem = as.ram[src<<pageShift : (src+1)<<pageShift : (src+1)<<pageShift]
		p.byteDirtyMask = as.byteDirty[src*64 : (src+1)*64]
		p.byteCodePresentMask = as.byteCodePresent[src*64 : (src+1)*64]
		p.evictPrev = evictNone
		p.evictNext = evictNone
	}

	as.SetMemState(startKB*1024, sizeKB*1024, MemReadInternal|MemWriteInternal)
	as.ramRemapped.SetAddr(startKB*1024, sizeKB*1024)
}
