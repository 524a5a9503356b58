package page

import (
	"encoding/binary"
	"fmt"
)

// Deserialize reconstructs a page from raw bytes previously produced by
// Bytes, acquiring a pool-owned buffer instead of allocating a fresh one
// (spec.md §4.10): it reads the header to find the encoded fixed row
// size, checks out a page from pool (which must be sized for that row
// type), copies the bytes in, and defers recomputing the content hash
// until first use.
func Deserialize(data []byte, pool *Pool) (*Page, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("page: deserialize: want %d bytes, got %d", Size, len(data))
	}
	version := binary.LittleEndian.Uint16(data[offFormatVersion:])
	if version != formatVersion {
		return nil, fmt.Errorf("page: deserialize: unsupported format version %d", version)
	}
	fixedRowSize := int(binary.LittleEndian.Uint16(data[offFixedRowSize:]))
	if fixedRowSize != pool.fixedRowSize {
		return nil, fmt.Errorf("page: deserialize: data fixed row size %d does not match pool's %d", fixedRowSize, pool.fixedRowSize)
	}

	p := pool.Get()
	copy(p.buf, data)
	p.invalidateHash()
	return p, nil
}
