package core

import "unsafe"

const (
	// CacheLineSize is the alignment of arena buffers handed out by AlignedBytes.
	CacheLineSize = 64

	// TensorAlign is the minimum alignment of every tensor placed in an arena.
	// It keeps float32 and int32 views of arena bytes naturally aligned.
	TensorAlign = 16
)

// AlignUp rounds n up to the next multiple of align. align must be a power of two.
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// IsAligned reports whether addr is a multiple of align.
func IsAligned(addr uintptr, align uintptr) bool {
	return addr%align == 0
}

// AlignedBytes allocates a byte slice whose first element sits on a cache line
// boundary. It is used once per process to back the arena.
func AlignedBytes(size int) []byte {
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}
