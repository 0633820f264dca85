package mem

import (
	"encoding/binary"

	akitamem "github.com/sarchlab/akita/v4/mem/mem"
)

// StorageRegion adapts an Akita storage to a Region, letting
// sparse-allocated memory back a mapping. Expansion boards with
// large, mostly untouched address windows (ISA memory cards, linear
// frame buffer apertures) use it so a mapped gigabyte does not cost
// a resident gigabyte.
type StorageRegion struct {
	storage *akitamem.Storage
	base    uint64
}

// NewStorageRegion wraps storage for a mapping that will be placed
// at base; the storage is addressed relative to it.
func NewStorageRegion(storage *akitamem.Storage, base uint32) *StorageRegion {
	return &StorageRegion{storage: storage, base: uint64(base)}
}

// Caps implements Region.
func (r *StorageRegion) Caps() Caps {
	return CapReadByte | CapReadWord | CapReadDword |
		CapWriteByte | CapWriteWord | CapWriteDword
}

func (r *StorageRegion) read(addr uint32, n uint64) []byte {
	data, err := r.storage.Read(uint64(addr)-r.base, n)
	if err != nil {
		return nil
	}
	return data
}

func (r *StorageRegion) write(addr uint32, data []byte) {
	// Out-of-range stores float on the bus.
	_ = r.storage.Write(uint64(addr)-r.base, data)
}

// ReadByte implements Region.
func (r *StorageRegion) ReadByte(addr uint32) uint8 {
	data := r.read(addr, 1)
	if data == nil {
		return 0xff
	}
	return data[0]
}

// ReadWord implements Region.
func (r *StorageRegion) ReadWord(addr uint32) uint16 {
	data := r.read(addr, 2)
	if data == nil {
		return 0xffff
	}
	return binary.LittleEndian.Uint16(data)
}

// ReadDword implements Region.
func (r *StorageRegion) ReadDword(addr uint32) uint32 {
	data := r.read(addr, 4)
	if data == nil {
		return 0xffffffff
	}
	return binary.LittleEndian.Uint32(data)
}

// WriteByte implements Region.
func (r *StorageRegion) WriteByte(addr uint32, val uint8) {
	r.write(addr, []byte{val})
}

// WriteWord implements Region.
func (r *StorageRegion) WriteWord(addr uint32, val uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], val)
	r.write(addr, buf[:])
}

// WriteDword implements Region.
func (r *StorageRegion) WriteDword(addr uint32, val uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	r.write(addr, buf[:])
}

// AddStorageMapping registers a sparse storage-backed region at
// [base, base+size).
func (as *AddressSpace) AddStorageMapping(base, size uint32, storage *akitamem.Storage, flags uint32) *Mapping {
	return as.AddMapping(base, size, NewStorageRegion(storage, base), nil, flags)
}
