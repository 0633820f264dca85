package mem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/unreal9010/86Box/mem"
)

// testCPU is a scriptable control-state stub.
type testCPU struct {
	paging   bool
	pae      bool
	pse      bool
	wp       bool
	override bool
	smm      bool
	cr3      uint32
	cpl      uint8

	faulted    bool
	faultAddr  uint32
	faultCause uint8
}

func (c *testCPU) Paging() bool       { return c.paging }
func (c *testCPU) PAE() bool          { return c.pae }
func (c *testCPU) PSE() bool          { return c.pse }
func (c *testCPU) WriteProtect() bool { return c.wp }
func (c *testCPU) CR3() uint32        { return c.cr3 }
func (c *testCPU) CPL() uint8         { return c.cpl }
func (c *testCPU) CPLOverride() bool  { return c.override }
func (c *testCPU) InSMM() bool        { return c.smm }
func (c *testCPU) Aborted() bool      { return c.faulted }

func (c *testCPU) PageFault(linear uint32, cause uint8) {
	c.faulted = true
	c.faultAddr = linear
	c.faultCause = cause
}

// testCodeGen is a scriptable recompiler stub.
type testCodeGen struct {
	inRecompile bool
	page        uint32
}

func newTestCodeGen() *testCodeGen {
	return &testCodeGen{page: mem.NoRecompilePage}
}

func (cg *testCodeGen) InRecompile() bool     { return cg.inRecompile }
func (cg *testCodeGen) RecompilePage() uint32 { return cg.page }

var _ = Describe("AddressSpace", func() {
	var as *mem.AddressSpace

	BeforeEach(func() {
		as = mem.New(mem.DefaultConfig())
	})

	Describe("Flat RAM access", func() {
		It("should round-trip each width", func() {
			as.WriteByte(0x1234, 0xab)
			Expect(as.ReadByte(0x1234)).To(Equal(uint8(0xab)))

			as.WriteWord(0x2000, 0x1234)
			Expect(as.ReadWord(0x2000)).To(Equal(uint16(0x1234)))

			as.WriteDword(0x3000, 0xdeadbeef)
			Expect(as.ReadDword(0x3000)).To(Equal(uint32(0xdeadbeef)))

			as.WriteQuad(0x4000, 0x0123456789abcdef)
			Expect(as.ReadQuad(0x4000)).To(Equal(uint64(0x0123456789abcdef)))
		})

		It("should return all ones for unclaimed addresses", func() {
			Expect(as.ReadByte(0xa0000)).To(Equal(uint8(0xff)))
			Expect(as.ReadWord(0xa0000)).To(Equal(uint16(0xffff)))
			Expect(as.ReadDword(0xa0000)).To(Equal(uint32(0xffffffff)))
		})

		It("should drop writes to unclaimed addresses", func() {
			as.WriteByte(0xa0000, 0x55)
			Expect(as.ReadByte(0xa0000)).To(Equal(uint8(0xff)))
			Expect(as.RAM()[0xa0000]).To(Equal(uint8(0x00)))
		})

		It("should merge a word read crossing into an unclaimed page", func() {
			as.RAM()[0x9ffff] = 0x34
			Expect(as.ReadWord(0x9ffff)).To(Equal(uint16(0xff34)))
		})

		It("should split a word write crossing into an unclaimed page", func() {
			as.WriteWord(0x9ffff, 0xbbaa)
			Expect(as.RAM()[0x9ffff]).To(Equal(uint8(0xaa)))
			Expect(as.RAM()[0xa0000]).To(Equal(uint8(0x00)))
			Expect(as.ReadByte(0xa0000)).To(Equal(uint8(0xff)))
		})
	})

	Describe("A20 gate", func() {
		It("should wrap bit 20 with the gate closed", func() {
			Expect(as.A20()).To(BeFalse())
			as.WriteByte(0x000000, 0x11)
			as.WriteByte(0x100000, 0x22)
			Expect(as.ReadByte(0x000000)).To(Equal(uint8(0x22)))
		})

		It("should separate the addresses with the gate open", func() {
			as.SetA20Key(true)
			Expect(as.A20()).To(BeTrue())
			as.WriteByte(0x000000, 0x11)
			as.WriteByte(0x100000, 0x22)
			Expect(as.ReadByte(0x000000)).To(Equal(uint8(0x11)))
			Expect(as.ReadByte(0x100000)).To(Equal(uint8(0x22)))
		})

		It("should keep the gate open while either source drives it", func() {
			as.SetA20Key(true)
			as.SetA20Alt(true)
			as.SetA20Key(false)
			Expect(as.A20()).To(BeTrue())
			as.SetA20Alt(false)
			Expect(as.A20()).To(BeFalse())
		})

		It("should not serve reads through a stale bias after the gate opens", func() {
			as.WriteBytePhys(0x000101, 0x11)
			as.WriteBytePhys(0x000102, 0x11)
			as.WriteBytePhys(0x100101, 0x22)
			as.WriteBytePhys(0x100102, 0x22)

			// The misaligned word path caches a bias that bakes in
			// the closed gate's wrap of bit 20.
			Expect(as.ReadWord(0x100101)).To(Equal(uint16(0x1111)))
			Expect(as.ReadWord(0x100101)).To(Equal(uint16(0x1111)))

			as.SetA20Key(true)
			Expect(as.ReadWord(0x100101)).To(Equal(uint16(0x2222)))
		})

		It("should hard-wrap at 1 MiB on XT machines", func() {
			xt := mem.New(mem.Config{MemKB: 640})
			Expect(xt.RAMMask()).To(Equal(uint32(0xfffff)))
			xt.SetA20Key(true)
			Expect(xt.RAMMask()).To(Equal(uint32(0xfffff)))
			Expect(xt.A20()).To(BeFalse())
		})

		It("should use 24-bit masks on 16-bit bus machines", func() {
			cfg := mem.DefaultConfig()
			cfg.Bus16 = true
			bus16 := mem.New(cfg)
			Expect(bus16.RAMMask()).To(Equal(uint32(0xefffff)))
			bus16.SetA20Key(true)
			Expect(bus16.RAMMask()).To(Equal(uint32(0xffffff)))
		})
	})

	Describe("Mapping registry", func() {
		constRegion := func(b uint8) *mem.RegionFuncs {
			return &mem.RegionFuncs{
				ReadB: func(uint32) uint8 { return b },
			}
		}

		It("should give overlap to the last registered mapping", func() {
			first := as.AddMapping(0xd0000, 0x1000, constRegion(0x11), nil, mem.FlagExternal)
			as.AddMapping(0xd0000, 0x1000, constRegion(0x22), nil, mem.FlagExternal)
			Expect(as.ReadByte(0xd0000)).To(Equal(uint8(0x22)))
			_ = first
		})

		It("should revert to the earlier mapping when the later one is disabled", func() {
			as.AddMapping(0xd0000, 0x1000, constRegion(0x11), nil, mem.FlagExternal)
			second := as.AddMapping(0xd0000, 0x1000, constRegion(0x22), nil, mem.FlagExternal)
			second.Disable()
			Expect(as.ReadByte(0xd0000)).To(Equal(uint8(0x11)))
			second.Enable()
			Expect(as.ReadByte(0xd0000)).To(Equal(uint8(0x22)))
		})

		It("should follow a relocated mapping", func() {
			m := as.AddMapping(0xd0000, 0x1000, constRegion(0x33), nil, mem.FlagExternal)
			m.SetAddr(0xe0000, 0x1000)
			Expect(as.ReadByte(0xd0000)).To(Equal(uint8(0xff)))
			Expect(as.ReadByte(0xe0000)).To(Equal(uint8(0x33)))
		})

		It("should leave a mapping relocated with zero size disabled", func() {
			m := as.AddMapping(0xd0000, 0x1000, constRegion(0x44), nil, mem.FlagExternal)
			m.SetAddr(0xe0000, 0)
			Expect(m.Enabled()).To(BeFalse())
			Expect(as.ReadByte(0xd0000)).To(Equal(uint8(0xff)))
		})

		It("should drop a deleted mapping from dispatch", func() {
			m := as.AddMapping(0xd0000, 0x1000, constRegion(0x44), nil, mem.FlagExternal)
			as.DelMapping(m)
			Expect(as.ReadByte(0xd0000)).To(Equal(uint8(0xff)))
		})

		It("should split wide accesses for byte-only regions", func() {
			var log []uint32
			region := &mem.RegionFuncs{
				ReadB: func(addr uint32) uint8 { return uint8(addr) },
				WriteB: func(addr uint32, val uint8) {
					log = append(log, addr)
				},
			}
			as.AddMapping(0xd0000, 0x1000, region, nil, mem.FlagExternal)

			Expect(as.ReadWord(0xd0010)).To(Equal(uint16(0x1110)))
			Expect(as.ReadDword(0xd0010)).To(Equal(uint32(0x13121110)))

			as.WriteWord(0xd0020, 0xaabb)
			Expect(log).To(Equal([]uint32{0xd0020, 0xd0021}))
		})
	})

	Describe("Memory state policies", func() {
		It("should hide internal RAM where the policy demands external", func() {
			// The 640K-1M hole is external by default even on machines
			// with RAM behind it.
			Expect(as.ReadByte(0xb8000)).To(Equal(uint8(0xff)))
		})

		It("should expose shadow RAM when the policy switches to internal", func() {
			as.SetMemState(0xb8000, 0x1000, mem.MemReadInternal|mem.MemWriteInternal)
			as.WriteByte(0xb8000, 0x5a)
			Expect(as.ReadByte(0xb8000)).To(Equal(uint8(0x5a)))
			Expect(as.RAM()[0xb8000]).To(Equal(uint8(0x5a)))
		})

		It("should block reads while keeping writes with a split policy", func() {
			as.SetMemState(0xb8000, 0x1000, mem.MemReadDisabled|mem.MemWriteInternal)
			as.WriteByte(0xb8000, 0x5a)
			Expect(as.ReadByte(0xb8000)).To(Equal(uint8(0xff)))
			Expect(as.RAM()[0xb8000]).To(Equal(uint8(0x5a)))
		})

		It("should keep SMM policies independent", func() {
			cpu := &testCPU{}
			spc := mem.New(mem.DefaultConfig(), mem.WithCPU(cpu))
			spc.SetMemState(0xb8000, 0x1000, mem.MemReadInternal|mem.MemWriteInternal)
			spc.SetMemStateSMM(0xb8000, 0x1000, mem.MemReadDisabled|mem.MemWriteDisabled)

			spc.WriteByte(0xb8000, 0x5a)
			Expect(spc.ReadByte(0xb8000)).To(Equal(uint8(0x5a)))

			cpu.smm = true
			spc.RecalcAll()
			Expect(spc.ReadByte(0xb8000)).To(Equal(uint8(0xff)))

			cpu.smm = false
			spc.RecalcAll()
			Expect(spc.ReadByte(0xb8000)).To(Equal(uint8(0x5a)))
		})
	})

	Describe("Physical accessors", func() {
		It("should bypass the A20 mask", func() {
			Expect(as.A20()).To(BeFalse())
			as.WriteBytePhys(0x100000, 0x77)
			Expect(as.ReadBytePhys(0x100000)).To(Equal(uint8(0x77)))
			Expect(as.RAM()[0x100000]).To(Equal(uint8(0x77)))
			Expect(as.RAM()[0x000000]).To(Equal(uint8(0x00)))
		})

		It("should copy bulk data and mark it dirty", func() {
			src := []byte{1, 2, 3, 4, 5}
			as.WritePhys(0x5000, src)

			dst := make([]byte, 5)
			as.ReadPhys(dst, 0x5000)
			Expect(dst).To(Equal(src))
			Expect(as.PageFor(0x5000).DirtyMask() & 1).NotTo(BeZero())
		})
	})

	Describe("RAM ownership", func() {
		It("should report RAM-backed addresses", func() {
			Expect(as.AddrIsRAM(0x1000)).To(BeTrue())
			Expect(as.AddrIsRAM(0x100000)).To(BeTrue())
			Expect(as.AddrIsRAM(0xb8000)).To(BeFalse())
		})
	})
})
