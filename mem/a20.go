package mem

// A20 gate handling. The gate is driven from two sources, the
// keyboard controller and the fast gate port, OR-ed together. With
// the gate closed an AT machine masks out bit 20 of every physical
// address; XT machines have a hard 1 MiB wrap regardless.

func (as *AddressSpace) a20OffMask() uint32 {
	if as.config.Bus16 {
		return 0xefffff
	}
	return 0xffefffff
}

func (as *AddressSpace) a20OnMask() uint32 {
	if as.config.Bus16 {
		return 0xffffff
	}
	return 0xffffffff
}

// a20Init installs the power-on address mask. The gate sources keep
// their values across a reset; the effective state is recomputed
// from them.
func (as *AddressSpace) a20Init() {
	if as.config.IsAT {
		as.rammask = as.a20OffMask()
		as.flushTLBs()
		as.a20State = as.a20Key || as.a20Alt
	} else {
		as.rammask = 0xfffff
		as.flushTLBs()
		as.a20Key = false
		as.a20Alt = false
		as.a20State = false
	}
}

func (as *AddressSpace) a20Recalc() {
	if !as.config.IsAT {
		as.rammask = 0xfffff
		as.flushTLBs()
		as.a20Key = false
		as.a20Alt = false
		as.a20State = false
		return
	}

	state := as.a20Key || as.a20Alt
	if state && !as.a20State {
		as.rammask = as.a20OnMask()
		as.flushTLBs()
	} else if !state && as.a20State {
		as.rammask = as.a20OffMask()
		as.flushTLBs()
	}
	as.a20State = state
}

// SetA20Key drives the keyboard controller's A20 gate line.
func (as *AddressSpace) SetA20Key(on bool) {
	as.a20Key = on
	as.a20Recalc()
}

// SetA20Alt drives the fast A20 gate (port 92h and chipset
// equivalents).
func (as *AddressSpace) SetA20Alt(on bool) {
	as.a20Alt = on
	as.a20Recalc()
}

// A20 reports the effective gate state.
func (as *AddressSpace) A20() bool {
	return as.a20State
}

// RAMMask returns the current physical address mask.
func (as *AddressSpace) RAMMask() uint32 {
	return as.rammask
}
