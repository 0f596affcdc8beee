//go:build cgo

package verbs

import "unsafe"

/*
#include <stdlib.h>
#include <string.h>
#include <sys/mman.h>
*/
import "C"

// AllocPinned maps a page-aligned, zero-filled anonymous region of the given
// byte length, suitable for subsequent ibv_reg_mr registration. Mirrors
// Buffer's use of mmap over malloc so the registered range starts on a page
// boundary.
func AllocPinned(length uintptr) (unsafe.Pointer, error) {
	if length == 0 {
		return nil, nil
	}
	ptr := C.mmap(nil, C.size_t(length), C.PROT_READ|C.PROT_WRITE, C.MAP_PRIVATE|C.MAP_ANONYMOUS, -1, 0)
	if ptr == C.MAP_FAILED {
		return nil, ErrNoMemory.WithOp("mmap")
	}
	return ptr, nil
}

// FreePinned unmaps memory obtained from AllocPinned.
func FreePinned(ptr unsafe.Pointer, length uintptr) {
	if ptr == nil || length == 0 {
		return
	}
	C.munmap(ptr, C.size_t(length))
}

// Memcpy copies length bytes from src to dst.
func Memcpy(dst, src unsafe.Pointer, length uintptr) {
	if length == 0 || dst == nil || src == nil {
		return
	}
	C.memcpy(dst, src, C.size_t(length))
}

// Memset zero-fills length bytes starting at ptr.
func Memset(ptr unsafe.Pointer, length uintptr) {
	if ptr == nil || length == 0 {
		return
	}
	C.memset(ptr, 0, C.size_t(length))
}
