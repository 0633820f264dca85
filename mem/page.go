package mem

import (
	"encoding/binary"
	"fmt"
)

// evictNone marks a page that is not linked into the evict list.
const evictNone = ^uint32(0)

// A Page is one 4 KiB unit of the physical page table. mem aliases
// the slice of the RAM buffer backing the page (nil for pages beyond
// configured RAM). The dirty and code-present masks track 64-byte
// sub-blocks; the byte masks track single bytes for precise
// recompiler invalidation. Evict list linkage uses page table
// indices, not pointers, so it stays valid across table swaps.
type Page struct {
	mem []byte

	dirtyMask       uint64
	codePresentMask uint64

	byteDirtyMask       []uint64
	byteCodePresentMask []uint64

	// codeResident is set once the recompiler registers any code on
	// this page; writes to such pages must stay on the slow path.
	codeResident bool

	idx       uint32
	evictPrev uint32
	evictNext uint32
}

// Index returns the page's slot in the page table.
func (p *Page) Index() uint32 { return p.idx }

// Data returns the page's backing bytes, nil when the page is not
// RAM backed.
func (p *Page) Data() []byte { return p.mem }

// DirtyMask returns the 64-byte-block dirty mask.
func (p *Page) DirtyMask() uint64 { return p.dirtyMask }

// ByteDirtyMask returns the per-byte dirty mask, 64 words covering
// the page.
func (p *Page) ByteDirtyMask() []uint64 { return p.byteDirtyMask }

// CodePresentMask returns the 64-byte-block code residency mask.
func (p *Page) CodePresentMask() uint64 { return p.codePresentMask }

// CodeResident reports whether the recompiler holds code from this
// page.
func (p *Page) CodeResident() bool { return p.codeResident }

// ClearDirty clears the dirty masks after the recompiler has
// revalidated the page.
func (p *Page) ClearDirty() {
	p.dirtyMask = 0
	for i := range p.byteDirtyMask {
		p.byteDirtyMask[i] = 0
	}
}

// MarkCodePresent records that [offset, offset+length) of the page
// now holds recompiled guest code. Writes touching those bytes will
// queue the page for eviction.
func (p *Page) MarkCodePresent(offset, length uint32) {
	if length == 0 {
		return
	}
	end := offset + length - 1
	if end >= PageSize {
		end = PageSize - 1
	}
	for b := offset >> blockShift; b <= end>>blockShift; b++ {
		p.codePresentMask |= uint64(1) << (b & blockMask)
	}
	if p.byteCodePresentMask != nil {
		for a := offset; a <= end; a++ {
			p.byteCodePresentMask[(a>>blockShift)&blockMask] |= uint64(1) << (a & blockMask)
		}
	}
	p.codeResident = true
}

// InEvictList reports whether the page is queued for recompiler
// eviction.
func (as *AddressSpace) InEvictList(p *Page) bool {
	return p.evictPrev != evictNone || as.evictHead == p.idx
}

// AddToEvictList queues the page for recompiler eviction. Adding a
// page that is already queued is a no-op.
func (as *AddressSpace) AddToEvictList(p *Page) {
	if as.InEvictList(p) {
		return
	}
	if as.evictHead != evictNone {
		as.pages[as.evictHead].evictPrev = p.idx
	}
	p.evictNext = as.evictHead
	p.evictPrev = evictNone
	as.evictHead = p.idx
	as.purgeableCount++
}

// RemoveFromEvictList dequeues a page the recompiler has finished
// revalidating. Removing a page that is not queued is a bug in the
// caller and aborts.
func (as *AddressSpace) RemoveFromEvictList(p *Page) {
	if !as.InEvictList(p) {
		panic(fmt.Sprintf("mem: page %#x not in evict list", p.idx))
	}
	if p.evictPrev != evictNone {
		as.pages[p.evictPrev].evictNext = p.evictNext
	} else {
		as.evictHead = p.evictNext
	}
	if p.evictNext != evictNone {
		as.pages[p.evictNext].evictPrev = p.evictPrev
	}
	p.evictPrev = evictNone
	p.evictNext = evictNone
	as.purgeableCount--
}

// EvictListHead returns the most recently queued page, or nil when
// the list is empty.
func (as *AddressSpace) EvictListHead() *Page {
	if as.evictHead == evictNone {
		return nil
	}
	return &as.pages[as.evictHead]
}

// NextInEvictList returns the page queued after p, or nil.
func (as *AddressSpace) NextInEvictList(p *Page) *Page {
	if p.evictNext == evictNone {
		return nil
	}
	return &as.pages[p.evictNext]
}

// PurgeablePageCount returns the number of queued pages.
func (as *AddressSpace) PurgeablePageCount() int {
	return as.purgeableCount
}

func (as *AddressSpace) inRecompile() bool {
	return as.codegen != nil && as.codegen.InRecompile()
}

func (as *AddressSpace) queueIfCode(p *Page, mask uint64, byteOff uint32, byteMask uint64) {
	if p.codePresentMask&mask != 0 || p.byteCodePresentMask[byteOff]&byteMask != 0 {
		as.AddToEvictList(p)
	}
}

// writeRAMBytePage is the per-page byte write handler: the store is
// skipped entirely when the value does not change (unless the
// recompiler is mid-translation), otherwise the dirty masks are
// updated and the page queued for eviction if the touched block
// holds code.
func (as *AddressSpace) writeRAMBytePage(addr uint32, val uint8, p *Page) {
	if p == nil || p.mem == nil {
		return
	}
	if val == p.mem[addr&0xfff] && !as.inRecompile() {
		return
	}

	block := (addr >> blockShift) & blockMask
	mask := uint64(1) << block
	byteMask := uint64(1) << (addr & blockMask)

	p.mem[addr&0xfff] = val
	p.dirtyMask |= mask
	p.byteDirtyMask[block] |= byteMask
	as.queueIfCode(p, mask, block, byteMask)
}

// writeRAMWordPage is the word variant. The access never straddles a
// page (the dispatcher splits those) but may straddle a 64-byte
// block.
func (as *AddressSpace) writeRAMWordPage(addr uint32, val uint16, p *Page) {
	if p == nil || p.mem == nil {
		return
	}
	off := addr & 0xfff
	if val == binary.LittleEndian.Uint16(p.mem[off:]) && !as.inRecompile() {
		return
	}

	block := (addr >> blockShift) & blockMask
	mask := uint64(1) << block
	if addr&blockMask == blockMask {
		mask |= mask << 1
	}

	binary.LittleEndian.PutUint16(p.mem[off:], val)
	p.dirtyMask |= mask

	byteMask := uint64(3) << (addr & blockMask)
	if addr&blockMask == blockMask {
		// Second byte spills into the next mask word.
		p.byteDirtyMask[block+1] |= 1
		if p.byteCodePresentMask[block+1]&1 != 0 {
			as.AddToEvictList(p)
		}
		byteMask = uint64(1) << blockMask
	}
	p.byteDirtyMask[block] |= byteMask
	as.queueIfCode(p, mask, block, byteMask)
}

// writeRAMDwordPage is the doubleword variant.
func (as *AddressSpace) writeRAMDwordPage(addr uint32, val uint32, p *Page) {
	if p == nil || p.mem == nil {
		return
	}
	off := addr & 0xfff
	if val == binary.LittleEndian.Uint32(p.mem[off:]) && !as.inRecompile() {
		return
	}

	block := (addr >> blockShift) & blockMask
	mask := uint64(1) << block
	if addr&blockMask >= blockMask-2 {
		mask |= mask << 1
	}

	binary.LittleEndian.PutUint32(p.mem[off:], val)
	p.dirtyMask |= mask

	lo := addr & blockMask
	byteMask := uint64(0xf) << lo
	p.byteDirtyMask[block] |= byteMask
	as.queueIfCode(p, mask, block, byteMask)

	if lo > blockMask-3 {
		spill := uint64(0xf) >> (64 - lo)
		p.byteDirtyMask[block+1] |= spill
		if p.byteCodePresentMask[block+1]&spill != 0 {
			as.AddToEvictList(p)
		}
	}
}

// InvalidateRange force-dirties [start, end] at block granularity.
// DMA writes that bypass the per-page handlers (bulk physical copies,
// direct RAM slicing) report themselves through here so the
// recompiler still observes them.
func (as *AddressSpace) InvalidateRange(start, end uint32) {
	first := uint64(start) &^ blockMask
	last := (uint64(end) + blockMask) &^ blockMask

	for a := first; a <= last; a += 1 << blockShift {
		idx := a >> pageShift
		if idx >= uint64(len(as.pages)) {
			continue
		}
		p := &as.pages[idx]
		mask := uint64(1) << ((a >> blockShift) & blockMask)
		p.dirtyMask |= mask
		if p.codePresentMask&mask != 0 && !as.InEvictList(p) {
			as.AddToEvictList(p)
		}
	}
}

// ramRegion services accesses to pages backed by the RAM buffer. On
// top of the raw store it feeds the translation caches and runs the
// per-page dirty tracking.
type ramRegion struct {
	as *AddressSpace
}

func (r *ramRegion) Caps() Caps {
	return CapReadByte | CapReadWord | CapReadDword |
		CapWriteByte | CapWriteWord | CapWriteDword
}

func (r *ramRegion) ReadByte(addr uint32) uint8 {
	r.as.addReadLookup(r.as.logicalAddr, addr)
	return r.as.ram[addr]
}

func (r *ramRegion) ReadWord(addr uint32) uint16 {
	r.as.addReadLookup(r.as.logicalAddr, addr)
	return binary.LittleEndian.Uint16(r.as.ram[addr:])
}

func (r *ramRegion) ReadDword(addr uint32) uint32 {
	r.as.addReadLookup(r.as.logicalAddr, addr)
	return binary.LittleEndian.Uint32(r.as.ram[addr:])
}

func (r *ramRegion) WriteByte(addr uint32, val uint8) {
	r.as.addWriteLookup(r.as.logicalAddr, addr)
	r.as.writeRAMBytePage(addr, val, r.as.PageFor(addr))
}

func (r *ramRegion) WriteWord(addr uint32, val uint16) {
	r.as.addWriteLookup(r.as.logicalAddr, addr)
	r.as.writeRAMWordPage(addr, val, r.as.PageFor(addr))
}

func (r *ramRegion) WriteDword(addr uint32, val uint32) {
	r.as.addWriteLookup(r.as.logicalAddr, addr)
	r.as.writeRAMDwordPage(addr, val, r.as.PageFor(addr))
}

// remappedRegion services the top-of-memory alias created by
// RemapTop: addresses above configured RAM map back onto the
// 640K-1M window. Dirty tracking runs against the page entry of the
// aliased address, whose backing was re-pointed by RemapTop.
type remappedRegion struct {
	as *AddressSpace
}

func (r *remappedRegion) Caps() Caps {
	return CapReadByte | CapReadWord | CapReadDword |
		CapWriteByte | CapWriteWord | CapWriteDword
}

func (r *remappedRegion) redirect(addr uint32) uint32 {
	memBytes := r.as.config.MemKB * 1024
	if addr >= memBytes && addr < memBytes+384*1024 {
		return 0xa0000 + (addr - memBytes)
	}
	return addr
}

func (r *remappedRegion) ReadByte(addr uint32) uint8 {
	addr = r.redirect(addr)
	r.as.addReadLookup(r.as.logicalAddr, addr)
	return r.as.ram[addr]
}

func (r *remappedRegion) ReadWord(addr uint32) uint16 {
	addr = r.redirect(addr)
	r.as.addReadLookup(r.as.logicalAddr, addr)
	return binary.LittleEndian.Uint16(r.as.ram[addr:])
}

func (r *remappedRegion) ReadDword(addr uint32) uint32 {
	addr = r.redirect(addr)
	r.as.addReadLookup(r.as.logicalAddr, addr)
	return binary.LittleEndian.Uint32(r.as.ram[addr:])
}

func (r *remappedRegion) WriteByte(addr uint32, val uint8) {
	orig := addr
	addr = r.redirect(addr)
	r.as.addWriteLookup(r.as.logicalAddr, addr)
	r.as.writeRAMBytePage(addr, val, r.as.PageFor(orig))
}

func (r *remappedRegion) WriteWord(addr uint32, val uint16) {
	orig := addr
	addr = r.redirect(addr)
	r.as.addWriteLookup(r.as.logicalAddr, addr)
	r.as.writeRAMWordPage(addr, val, r.as.PageFor(orig))
}

func (r *remappedRegion) WriteDword(addr uint32, val uint32) {
	orig := addr
	addr = r.redirect(addr)
	r.as.addWriteLookup(r.as.logicalAddr, addr)
	r.as.writeRAMDwordPage(addr, val, r.as.PageFor(orig))
}
