package mem

// The translation caches are two rings of tlbSize slots with
// direct-mapped per-virtual-page side tables. A slot holds a virtual
// page number; the side tables hold, per virtual page, the byte bias
// from virtual to physical RAM (readLookup2 style) and on the write
// side optionally a page pointer that forces the slow dirty-tracking
// path. Replacement is pure ring order.

// resetLookup reinitialises the rings and side tables to empty.
func (as *AddressSpace) resetLookup() {
	for i := range as.readLookup {
		as.readLookup[i] = tlbSlotEmpty
		as.writeLookup[i] = tlbSlotEmpty
	}
	for i := range as.readBias {
		as.readBias[i] = biasNone
		as.writeBias[i] = biasNone
		as.pageLookup[i] = nil
	}
	as.readNext = 0
	as.writeNext = 0
	as.pcVirt = ^uint32(0)
	as.pcWindow = nil
}

// flushTLBs empties both translation caches and the prefetch window.
// Any event that can change the virtual-to-physical relationship
// funnels through here.
func (as *AddressSpace) flushTLBs() {
	for i := range as.readLookup {
		if as.readLookup[i] != tlbSlotEmpty {
			as.readBias[as.readLookup[i]] = biasNone
			as.readLookup[i] = tlbSlotEmpty
		}
		if as.writeLookup[i] != tlbSlotEmpty {
			as.pageLookup[as.writeLookup[i]] = nil
			as.writeBias[as.writeLookup[i]] = biasNone
			as.writeLookup[i] = tlbSlotEmpty
		}
	}
	as.pcVirt = ^uint32(0)
	as.pcWindow = nil
	as.flushCount++
}

// CR3Changed invalidates all cached translations after a page table
// base switch. CPUs also call this on CR0 or CR4 paging bit changes.
func (as *AddressSpace) CR3Changed() {
	as.flushTLBs()
}

// FlushCount returns the number of full cache flushes since Reset,
// useful for timing models and tests.
func (as *AddressSpace) FlushCount() uint64 {
	return as.flushCount
}

// FlushWritePage drops any cached write translation targeting the
// physical page at addr (with virt the linear address it was cached
// under). The recompiler calls this after translating code from a
// page so later writes to it take the tracked path.
func (as *AddressSpace) FlushWritePage(addr, virt uint32) {
	target := as.PageFor(addr)
	if target == nil {
		return
	}
	bias := int64(addr&^0xfff) - int64(virt&^0xfff)

	for i := range as.writeLookup {
		vpage := as.writeLookup[i]
		if vpage == tlbSlotEmpty {
			continue
		}
		if as.writeBias[vpage] == bias || as.pageLookup[vpage] == target {
			as.writeBias[vpage] = biasNone
			as.pageLookup[vpage] = nil
			as.writeLookup[i] = tlbSlotEmpty
		}
	}
}

// addReadLookup caches a read translation. A virt of logicalNone
// marks a physical-path access and is never cached. Insertion
// charges the table walk cost.
func (as *AddressSpace) addReadLookup(virt, phys uint32) {
	if virt == logicalNone {
		return
	}
	vpage := virt >> pageShift
	if as.readBias[vpage] != biasNone {
		return
	}

	if old := as.readLookup[as.readNext]; old != tlbSlotEmpty {
		as.readBias[old] = biasNone
	}

	as.readBias[vpage] = int64(phys&^0xfff) - int64(virt&^0xfff)
	as.readLookupPerm[as.readNext] = as.lastPerm
	as.readLookup[as.readNext] = vpage
	as.readNext = (as.readNext + 1) & as.tlbMask

	as.subCycles(as.config.TLBInsertPenalty)
}

// addWriteLookup caches a write translation. Pages holding
// recompiled code, and the page currently being recompiled, are
// cached as a page pointer instead of a bias so stores keep running
// the dirty-tracking handlers.
func (as *AddressSpace) addWriteLookup(virt, phys uint32) {
	if virt == logicalNone {
		return
	}
	vpage := virt >> pageShift
	if as.pageLookup[vpage] != nil {
		return
	}

	if old := as.writeLookup[as.writeNext]; old != tlbSlotEmpty {
		as.pageLookup[old] = nil
		as.writeBias[old] = biasNone
	}

	p := as.PageFor(phys)
	if p != nil && (p.codeResident ||
		(as.codegen != nil && phys&^uint32(0xfff) == as.codegen.RecompilePage())) {
		as.pageLookup[vpage] = p
	} else {
		as.writeBias[vpage] = int64(phys&^0xfff) - int64(virt&^0xfff)
	}

	as.writeLookupPerm[as.writeNext] = as.lastPerm
	as.writeLookup[as.writeNext] = vpage
	as.writeNext = (as.writeNext + 1) & as.tlbMask

	as.subCycles(as.config.TLBInsertPenalty)
}

// ReadLookupPerms exposes the user bit recorded with each cached read
// translation, indexed by ring slot. The execution core consults
// these when revalidating cached translations after a privilege
// level change.
func (as *AddressSpace) ReadLookupPerms() []uint8 {
	return as.readLookupPerm
}

// WriteLookupPerms is the write-side counterpart of ReadLookupPerms.
func (as *AddressSpace) WriteLookupPerms() []uint8 {
	return as.writeLookupPerm
}
