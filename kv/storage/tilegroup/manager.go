package tilegroup

import (
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

var (
	// ErrNoSuchTileGroup is returned when an item pointer names a tile group that does not exist.
	ErrNoSuchTileGroup = errors.New("tilegroup: no such tile group")
	// ErrSlotOutOfRange is returned when an item pointer names an offset past the group capacity.
	ErrSlotOutOfRange = errors.New("tilegroup: slot offset out of range")
)

// DefaultCapacity is the number of slots per tile group when none is configured.
const DefaultCapacity = 1000

// Catalog resolves item pointers to tile group headers. The concurrency manager only needs
// this much of the storage layer.
type Catalog interface {
	Locate(loc ItemPointer) (*Header, error)
}

// Manager owns every tile group of a table. Tile groups are only ever appended, so a header
// returned by Locate stays valid for the life of the manager.
type Manager struct {
	capacity int

	mu     sync.RWMutex
	groups []*TileGroup
}

// NewManager creates a manager whose tile groups hold capacity slots each.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{capacity: capacity}
}

// Capacity returns the number of slots per tile group.
func (m *Manager) Capacity() int {
	return m.capacity
}

// GroupCount returns the number of tile groups created so far.
func (m *Manager) GroupCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups)
}

// AllocateSlot hands out a fresh slot. A new tile group is created when the last one is full.
func (m *Manager) AllocateSlot() ItemPointer {
	for {
		m.mu.RLock()
		var active *TileGroup
		if n := len(m.groups); n > 0 {
			active = m.groups[n-1]
		}
		m.mu.RUnlock()

		if active != nil {
			if offset, ok := active.nextEmptySlot(); ok {
				slotsAllocatedCounter.Inc()
				return ItemPointer{Block: active.id, Offset: offset}
			}
		}

		m.mu.Lock()
		// Another allocator may have added a group while we were unlocked.
		if n := len(m.groups); n == 0 || m.groups[n-1] == active {
			g := newTileGroup(uint32(n), m.capacity)
			m.groups = append(m.groups, g)
			tileGroupGauge.Set(float64(len(m.groups)))
			log.Debug("tile group created", zap.Uint32("id", g.id), zap.Int("capacity", m.capacity))
		}
		m.mu.Unlock()
	}
}

// GetTileGroup returns the tile group with the given id.
func (m *Manager) GetTileGroup(id uint32) (*TileGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(id) >= len(m.groups) || id == InvalidOID {
		return nil, errors.Annotatef(ErrNoSuchTileGroup, "id %d", id)
	}
	return m.groups[id], nil
}

func (m *Manager) locateGroup(loc ItemPointer) (*TileGroup, error) {
	g, err := m.GetTileGroup(loc.Block)
	if err != nil {
		return nil, err
	}
	if int(loc.Offset) >= g.Capacity() {
		return nil, errors.Annotatef(ErrSlotOutOfRange, "location %s", loc)
	}
	return g, nil
}

// Locate returns the header holding the slot at loc.
func (m *Manager) Locate(loc ItemPointer) (*Header, error) {
	g, err := m.locateGroup(loc)
	if err != nil {
		return nil, err
	}
	return g.header, nil
}

// SetPayload stores the tuple of the slot at loc. The caller must own the slot.
func (m *Manager) SetPayload(loc ItemPointer, t Tuple) error {
	g, err := m.locateGroup(loc)
	if err != nil {
		return err
	}
	g.setPayload(loc.Offset, t)
	return nil
}

// Payload returns the tuple of the slot at loc.
func (m *Manager) Payload(loc ItemPointer) (Tuple, error) {
	g, err := m.locateGroup(loc)
	if err != nil {
		return Tuple{}, err
	}
	return g.payload(loc.Offset), nil
}
