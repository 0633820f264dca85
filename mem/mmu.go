package mem

import "encoding/binary"

// TranslateFault is returned by the translation walkers when the
// access faulted or the probe failed.
const TranslateFault = ^uint64(0)

// paeAddrMask clips PAE physical addresses to the 40-bit bus.
const paeAddrMask = 0x000000ffffffffff

// Page table entries are fetched through the exec chunk table, the
// same window the prefetch path uses, so tables living in ROM or
// unmapped space read as not-present instead of reaching device
// handlers.
func (as *AddressSpace) pte32(addr uint32) uint32 {
	chunk := as.execChunk[addr>>pageShift]
	if chunk == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(chunk[addr&0xfff:])
}

func (as *AddressSpace) setPTE32(addr uint32, val uint32) {
	chunk := as.execChunk[addr>>pageShift]
	if chunk == nil {
		return
	}
	binary.LittleEndian.PutUint32(chunk[addr&0xfff:], val)
}

func (as *AddressSpace) pte64(addr uint32) uint64 {
	chunk := as.execChunk[addr>>pageShift]
	if chunk == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(chunk[addr&0xfff:])
}

func (as *AddressSpace) setPTE64(addr uint32, val uint64) {
	chunk := as.execChunk[addr>>pageShift]
	if chunk == nil {
		return
	}
	binary.LittleEndian.PutUint64(chunk[addr&0xfff:], val)
}

// permDenied checks an access against the effective entry bits:
// user accesses need the user bit, writes need the write bit unless
// ring 0 with write protection off. CPL overrides (task switches,
// descriptor fetches) bypass both checks.
func (as *AddressSpace) permDenied(perms uint64, write bool) bool {
	cpl3 := as.cpu.CPL() == 3
	override := as.cpu.CPLOverride()
	if cpl3 && perms&4 == 0 && !override {
		return true
	}
	return write && perms&2 == 0 && ((cpl3 && !override) || as.cpu.WriteProtect())
}

// raisePageFault reports a fault to the CPU with the x86 error code
// layout: bit 0 set when the faulting entry was present, bit 1 on a
// write, bit 2 when executing at CPL 3.
func (as *AddressSpace) raisePageFault(addr uint32, entryPresent bool, write bool) {
	var cause uint8
	if entryPresent {
		cause |= 1
	}
	if write {
		cause |= 2
	}
	if as.cpu.CPL() == 3 {
		cause |= 4
	}
	as.cpu.PageFault(addr, cause)
}

func (as *AddressSpace) translateNormal(addr uint32, write, fault bool) uint64 {
	cr3 := as.cpu.CR3()
	dirAddr := (cr3 &^ 0xfff) + ((addr >> 20) & 0xffc)
	dir := as.pte32(dirAddr)
	if dir&1 == 0 {
		if fault {
			as.raisePageFault(addr, false, write)
		}
		return TranslateFault
	}

	if dir&0x80 != 0 && as.cpu.PSE() {
		// 4MB page
		if as.permDenied(uint64(dir), write) {
			if fault {
				as.raisePageFault(addr, true, write)
			}
			return TranslateFault
		}
		if fault {
			as.lastPerm = uint8(dir & 4)
			as.setPTE32(dirAddr, dir|0x20)
		}
		return uint64(dir&^0x3fffff) + uint64(addr&0x3fffff)
	}

	tblAddr := (dir &^ 0xfff) + ((addr >> 10) & 0xffc)
	tbl := as.pte32(tblAddr)
	combined := tbl & dir
	if tbl&1 == 0 || as.permDenied(uint64(combined), write) {
		if fault {
			as.raisePageFault(addr, tbl&1 != 0, write)
		}
		return TranslateFault
	}

	if fault {
		as.lastPerm = uint8(tbl & 4)
		as.setPTE32(dirAddr, dir|0x20)
		if write {
			as.setPTE32(tblAddr, tbl|0x60)
		} else {
			as.setPTE32(tblAddr, tbl|0x20)
		}
	}
	return uint64(tbl&^0xfff) + uint64(addr&0xfff)
}

func (as *AddressSpace) translatePAE(addr uint32, write, fault bool) uint64 {
	cr3 := as.cpu.CR3()
	dptAddr := (cr3 &^ 0x1f) + ((addr >> 27) & 0x18)
	dpt := as.pte64(dptAddr) & paeAddrMask
	if dpt&1 == 0 {
		if fault {
			as.raisePageFault(addr, false, write)
		}
		return TranslateFault
	}

	dirAddr := uint32(dpt&^0xfff) + ((addr >> 18) & 0xff8)
	dir := as.pte64(dirAddr) & paeAddrMask
	if dir&1 == 0 {
		if fault {
			as.raisePageFault(addr, false, write)
		}
		return TranslateFault
	}

	if dir&0x80 != 0 {
		// 2MB page
		if as.permDenied(dir, write) {
			if fault {
				as.raisePageFault(addr, true, write)
			}
			return TranslateFault
		}
		if fault {
			as.lastPerm = uint8(dir & 4)
			as.setPTE64(dirAddr, dir|0x20)
		}
		return (dir&^uint64(0x1fffff) + uint64(addr&0x1fffff)) & paeAddrMask
	}

	tblAddr := uint32(dir&^0xfff) + ((addr >> 9) & 0xff8)
	tbl := as.pte64(tblAddr) & paeAddrMask
	// The directory pointer entry carries no user or write bits, so
	// only directory and table entries intersect.
	combined := tbl & dir
	if tbl&1 == 0 || as.permDenied(combined, write) {
		if fault {
			as.raisePageFault(addr, tbl&1 != 0, write)
		}
		return TranslateFault
	}

	if fault {
		as.lastPerm = uint8(tbl & 4)
		as.setPTE64(dirAddr, dir|0x20)
		if write {
			as.setPTE64(tblAddr, tbl|0x60)
		} else {
			as.setPTE64(tblAddr, tbl|0x20)
		}
	}
	return (tbl&^uint64(0xfff) + uint64(addr&0xfff)) & paeAddrMask
}

// Translate walks the page tables for a linear address and returns
// the physical address, raising a page fault on the CPU and
// returning TranslateFault when the walk fails. Accessed and dirty
// bits are set on success. Callers must check Aborted before using
// the side effects of a faulting access.
func (as *AddressSpace) Translate(addr uint32, write bool) uint64 {
	if as.cpu.Aborted() {
		return TranslateFault
	}
	if as.cpu.PAE() {
		return as.translatePAE(addr, write, true)
	}
	return as.translateNormal(addr, write, true)
}

// TranslateProbe walks the page tables without raising a fault or
// touching accessed and dirty bits. The recompiler uses it to test
// whether an address is reachable before emitting code for it.
func (as *AddressSpace) TranslateProbe(addr uint32, write bool) uint64 {
	if as.cpu.Aborted() {
		return TranslateFault
	}
	if as.cpu.PAE() {
		return as.translatePAE(addr, write, false)
	}
	return as.translateNormal(addr, write, false)
}
