package tilegroup

import (
	"go.uber.org/atomic"
)

// Tuple is the payload stored in a slot.
type Tuple struct {
	Key   []byte
	Value []byte
}

// TileGroup is a fixed-capacity array of tuple slots and their headers. Slots are handed out
// once, in order.
type TileGroup struct {
	id       uint32
	header   *Header
	payloads []Tuple
	nextSlot atomic.Uint32
}

func newTileGroup(id uint32, capacity int) *TileGroup {
	return &TileGroup{
		id:       id,
		header:   NewHeader(capacity),
		payloads: make([]Tuple, capacity),
	}
}

func (g *TileGroup) ID() uint32 {
	return g.id
}

func (g *TileGroup) Header() *Header {
	return g.header
}

// Capacity returns the number of slots in the group.
func (g *TileGroup) Capacity() int {
	return len(g.payloads)
}

// AllocatedCount returns how many slots have been handed out.
func (g *TileGroup) AllocatedCount() int {
	n := int(g.nextSlot.Load())
	if n > g.Capacity() {
		return g.Capacity()
	}
	return n
}

// nextEmptySlot hands out the next unused slot, or false when the group is full.
func (g *TileGroup) nextEmptySlot() (uint32, bool) {
	if int(g.nextSlot.Load()) >= g.Capacity() {
		return InvalidOID, false
	}
	offset := g.nextSlot.Inc() - 1
	if int(offset) >= g.Capacity() {
		return InvalidOID, false
	}
	return offset, true
}

// setPayload is only called by the transaction that owns the slot, before the version becomes
// visible to anyone else.
func (g *TileGroup) setPayload(offset uint32, t Tuple) {
	g.payloads[offset] = t
}

func (g *TileGroup) payload(offset uint32) Tuple {
	return g.payloads[offset]
}
