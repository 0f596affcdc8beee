package rdma

import (
	"github.com/rfaas/executor-manager/internal/verbs"
)

// ScatterGatherElement identifies a (address, length, lkey) range within a
// registered Buffer that a work request reads from or writes into.
type ScatterGatherElement struct {
	Addr   uint64
	Length uint32
	LKey   uint32
}

// SGE builds a ScatterGatherElement covering the full extent of b. Fails
// with ErrNotRegistered before Register has succeeded.
func (b *Buffer) SGE() (ScatterGatherElement, error) {
	lkey, err := b.LKey()
	if err != nil {
		return ScatterGatherElement{}, err
	}
	return ScatterGatherElement{Addr: b.Addr(), Length: uint32(b.size), LKey: lkey}, nil
}

// SGERange builds a ScatterGatherElement covering [offset, offset+length)
// within b. Returns ErrBufferTooSmall if the range exceeds the buffer, or
// ErrNotRegistered before Register has succeeded.
func (b *Buffer) SGERange(offset uint64, length uint32) (ScatterGatherElement, error) {
	if uint64(length)+offset > uint64(b.size) {
		return ScatterGatherElement{}, ErrBufferTooSmall
	}
	lkey, err := b.LKey()
	if err != nil {
		return ScatterGatherElement{}, err
	}
	return ScatterGatherElement{Addr: b.Addr() + offset, Length: length, LKey: lkey}, nil
}

func toVerbsSGEs(sges []ScatterGatherElement) []verbs.SGE {
	if len(sges) == 0 {
		return nil
	}
	out := make([]verbs.SGE, len(sges))
	for i, s := range sges {
		out[i] = verbs.SGE{Addr: s.Addr, Length: s.Length, LKey: s.LKey}
	}
	return out
}
