package mem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/unreal9010/86Box/mem"
	"github.com/unreal9010/86Box/timing/cost"
)

var _ = Describe("Paging", func() {
	var (
		as  *mem.AddressSpace
		cpu *testCPU
	)

	BeforeEach(func() {
		cpu = &testCPU{cr3: 0x10000}
		as = mem.New(mem.DefaultConfig(), mem.WithCPU(cpu))
		cpu.paging = true
	})

	// mapPage writes a two-level mapping of the 4K page at virt to
	// the page at phys, with entry bits perms on both levels.
	mapPage := func(virt, phys, perms uint32) {
		ptBase := uint32(0x11000)
		as.WriteDwordPhys(0x10000+(virt>>20)&0xffc, ptBase|perms)
		as.WriteDwordPhys(ptBase+(virt>>10)&0xffc, phys|perms)
	}

	Describe("Two-level translation", func() {
		It("should translate through both levels", func() {
			mapPage(0x1000, 0x5000, 7)
			as.RAM()[0x5000] = 0x5a
			Expect(as.ReadByte(0x1000)).To(Equal(uint8(0x5a)))
			Expect(cpu.faulted).To(BeFalse())
		})

		It("should set accessed bits on a read", func() {
			mapPage(0x1000, 0x5000, 7)
			as.ReadByte(0x1000)
			Expect(as.ReadDwordPhys(0x10000) & 0x20).NotTo(BeZero())
			Expect(as.ReadDwordPhys(0x11004) & 0x60).To(Equal(uint32(0x20)))
		})

		It("should set the dirty bit only on a write", func() {
			mapPage(0x1000, 0x5000, 7)
			as.WriteByte(0x1000, 1)
			Expect(as.ReadDwordPhys(0x11004) & 0x60).To(Equal(uint32(0x60)))
		})

		It("should fault with a clean error code on a not-present read", func() {
			Expect(as.ReadByte(0x2000)).To(Equal(uint8(0xff)))
			Expect(cpu.faulted).To(BeTrue())
			Expect(cpu.faultAddr).To(Equal(uint32(0x2000)))
			Expect(cpu.faultCause).To(Equal(uint8(0)))
		})

		It("should leave accessed and dirty bits untouched on a fault", func() {
			mapPage(0x1000, 0x5000, 5) // present, user, read-only
			cpu.wp = true
			as.WriteByte(0x1000, 1)
			Expect(cpu.faulted).To(BeTrue())
			Expect(as.ReadDwordPhys(0x10000) & 0x20).To(BeZero())
			Expect(as.ReadDwordPhys(0x11004) & 0x60).To(BeZero())
		})

		It("should enforce write protection for ring 0 only under WP", func() {
			mapPage(0x1000, 0x5000, 5)
			as.WriteByte(0x1000, 1)
			Expect(cpu.faulted).To(BeFalse())

			cpu.wp = true
			as.CR3Changed()
			as.WriteByte(0x1000, 1)
			Expect(cpu.faulted).To(BeTrue())
			Expect(cpu.faultCause).To(Equal(uint8(3)))
		})

		It("should fault user accesses to supervisor pages", func() {
			mapPage(0x1000, 0x5000, 3) // present, writable, supervisor
			cpu.cpl = 3
			Expect(as.ReadByte(0x1000)).To(Equal(uint8(0xff)))
			Expect(cpu.faulted).To(BeTrue())
			Expect(cpu.faultCause).To(Equal(uint8(5)))
		})

		It("should let CPL overrides bypass the user check", func() {
			mapPage(0x1000, 0x5000, 3)
			cpu.cpl = 3
			cpu.override = true
			as.RAM()[0x5000] = 0x77
			Expect(as.ReadByte(0x1000)).To(Equal(uint8(0x77)))
			Expect(cpu.faulted).To(BeFalse())
		})

		It("should intersect permissions across both levels", func() {
			// Directory says read-only, table says writable.
			as.WriteDwordPhys(0x10000, 0x11000|5)
			as.WriteDwordPhys(0x11004, 0x5000|7)
			cpu.wp = true
			as.WriteByte(0x1000, 1)
			Expect(cpu.faulted).To(BeTrue())
			Expect(cpu.faultCause).To(Equal(uint8(3)))
		})

		It("should short-circuit while a fault is pending", func() {
			as.ReadByte(0x2000)
			Expect(cpu.faulted).To(BeTrue())
			first := cpu.faultAddr
			as.ReadByte(0x3000)
			Expect(cpu.faultAddr).To(Equal(first))
		})
	})

	Describe("4MB pages", func() {
		It("should translate a PSE large page in one level", func() {
			cpu.pse = true
			as.WriteDwordPhys(0x10004, 0x400000|0x87)
			as.RAM()[0x400123] = 0x42
			Expect(as.ReadByte(0x400123)).To(Equal(uint8(0x42)))
			Expect(cpu.faulted).To(BeFalse())
		})

		It("should treat the PSE bit as reserved when PSE is off", func() {
			as.WriteDwordPhys(0x10004, 0x400000|0x87)
			// Walk continues to a bogus second level and faults.
			as.ReadByte(0x400123)
			Expect(cpu.faulted).To(BeTrue())
		})
	})

	Describe("PAE translation", func() {
		BeforeEach(func() {
			cpu.pae = true
			cpu.cr3 = 0x20000
			as.WriteDwordPhys(0x20000, 0x21000|1)
			as.WriteDwordPhys(0x20004, 0)
		})

		It("should translate through three levels", func() {
			as.WriteDwordPhys(0x21000, 0x22000|7)
			as.WriteDwordPhys(0x21004, 0)
			as.WriteDwordPhys(0x22008, 0x6000|7)
			as.WriteDwordPhys(0x2200c, 0)

			as.RAM()[0x6000] = 0x99
			Expect(as.ReadByte(0x1000)).To(Equal(uint8(0x99)))
			Expect(cpu.faulted).To(BeFalse())
		})

		It("should stop at the directory for a 2MB page", func() {
			as.WriteDwordPhys(0x21008, 0x600000|0x87)
			as.WriteDwordPhys(0x2100c, 0)

			as.RAM()[0x600345] = 0x24
			Expect(as.ReadByte(0x200345)).To(Equal(uint8(0x24)))
			Expect(cpu.faulted).To(BeFalse())
		})

		It("should fault on a not-present directory pointer", func() {
			Expect(as.ReadByte(0x40000000)).To(Equal(uint8(0xff)))
			Expect(cpu.faulted).To(BeTrue())
			Expect(cpu.faultCause).To(Equal(uint8(0)))
		})
	})

	Describe("Probe translation", func() {
		It("should not fault or touch table bits", func() {
			mapPage(0x1000, 0x5000, 7)
			Expect(as.TranslateProbe(0x1000, false)).To(Equal(uint64(0x5000)))
			Expect(as.TranslateProbe(0x2000, false)).To(Equal(mem.TranslateFault))
			Expect(cpu.faulted).To(BeFalse())
			Expect(as.ReadDwordPhys(0x10000) & 0x20).To(BeZero())
		})
	})

	Describe("Cached permissions", func() {
		It("should record the user bit with each inserted translation", func() {
			mapPage(0x1000, 0x5000, 7)
			as.ReadWord(0x1000)
			Expect(as.ReadLookupPerms()[0]).To(Equal(uint8(4)))

			as.WriteWord(0x1000, 0)
			Expect(as.WriteLookupPerms()[0]).To(Equal(uint8(4)))
		})

		It("should record supervisor pages with a clear user bit", func() {
			mapPage(0x2000, 0x6000, 3)
			as.ReadWord(0x2000)
			Expect(as.ReadLookupPerms()[0]).To(Equal(uint8(0)))
		})
	})
})

var _ = Describe("Translation caches", func() {
	var (
		as      *mem.AddressSpace
		counter *cost.Counter
	)

	BeforeEach(func() {
		counter = cost.NewCounter()
		as = mem.New(mem.DefaultConfig(), mem.WithCycleSink(counter))
		counter.Drain()
	})

	It("should charge the walk on insertion and nothing on a hit", func() {
		as.ReadWord(0x101)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))

		as.ReadWord(0x103)
		Expect(counter.Drain()).To(Equal(uint64(4)))
	})

	It("should skip the misalignment penalty under Cyrix rules", func() {
		cfg := mem.DefaultConfig()
		cfg.CyrixAlignment = true
		cyrix := mem.New(cfg, mem.WithCycleSink(counter))
		counter.Drain()

		cyrix.ReadWord(0x101)
		Expect(counter.Drain()).To(Equal(uint64(9)))

		cyrix.ReadWord(0x107)
		Expect(counter.Drain()).To(Equal(uint64(4)))
	})

	It("should always charge misaligned quadwords", func() {
		cfg := mem.DefaultConfig()
		cfg.CyrixAlignment = true
		cyrix := mem.New(cfg, mem.WithCycleSink(counter))
		counter.Drain()

		cyrix.ReadQuad(0x104)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))
	})

	It("should replace entries in ring order", func() {
		cfg := mem.DefaultConfig()
		cfg.TLBSize = 2
		small := mem.New(cfg, mem.WithCycleSink(counter))
		counter.Drain()

		small.ReadWord(0x1001)
		small.ReadWord(0x2001)
		counter.Drain()

		// Third page evicts the first.
		small.ReadWord(0x3001)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))

		small.ReadWord(0x1001)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))

		// The second insertion round evicted 0x2000 as well.
		small.ReadWord(0x3001)
		Expect(counter.Drain()).To(Equal(uint64(4)))
	})

	It("should drop everything on CR3Changed", func() {
		as.ReadWord(0x101)
		counter.Drain()

		flushes := as.FlushCount()
		as.CR3Changed()
		Expect(as.FlushCount()).To(Equal(flushes + 1))

		as.ReadWord(0x103)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))
	})

	It("should drop a single write translation on FlushWritePage", func() {
		as.WriteWord(0x203, 0x1111)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))

		as.WriteWord(0x205, 0x2222)
		Expect(counter.Drain()).To(Equal(uint64(4)))

		as.FlushWritePage(0x0000, 0x0000)
		as.WriteWord(0x207, 0x3333)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))
	})

	It("should flush when a mapping changes", func() {
		as.ReadWord(0x101)
		counter.Drain()

		as.SetMemState(0xc0000, 0x1000, mem.MemReadAny|mem.MemWriteAny)

		as.ReadWord(0x103)
		Expect(counter.Drain()).To(Equal(uint64(4 + 9)))
	})
})
