package world

import (
	"encoding/json"

	"gridtown.io/internal/protocol"
	"gridtown.io/internal/store"
)

const (
	defaultMapWidth  = 100
	defaultMapHeight = 100
	defaultMapTurf   = "grass"
)

// Map is one loaded grid plus its occupants. All access happens on the
// world goroutine.
type Map struct {
	ID          int64
	Name        string
	Desc        string
	Owner       int64
	Flags       int64
	StartX      int
	StartY      int
	Width       int
	Height      int
	DefaultTurf string
	Allow       int64
	Deny        int64
	GuestDeny   int64
	Tags        map[string]string

	turf [][]json.RawMessage // indexed [x][y]; nil cell means default turf
	obj  [][]json.RawMessage // nil cell means no objects

	users map[*Client]struct{}
	dirty bool
}

func newMap(id int64) *Map {
	m := &Map{
		ID:          id,
		Name:        "Map",
		StartX:      5,
		StartY:      5,
		Width:       defaultMapWidth,
		Height:      defaultMapHeight,
		DefaultTurf: defaultMapTurf,
		Tags:        map[string]string{},
		users:       map[*Client]struct{}{},
	}
	m.blank()
	return m
}

func (m *Map) blank() {
	m.turf = make([][]json.RawMessage, m.Width)
	m.obj = make([][]json.RawMessage, m.Width)
	for x := 0; x < m.Width; x++ {
		m.turf[x] = make([]json.RawMessage, m.Height)
		m.obj[x] = make([]json.RawMessage, m.Height)
	}
}

func (m *Map) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// section collects the sparse cells of a rectangle, clamped to the map.
func (m *Map) section(x1, y1, x2, y2 int) protocol.MapSection {
	x1 = clamp(x1, 0, m.Width-1)
	y1 = clamp(y1, 0, m.Height-1)
	x2 = clamp(x2, 0, m.Width-1)
	y2 = clamp(y2, 0, m.Height-1)
	s := protocol.MapSection{
		Pos:     [4]int{x1, y1, x2, y2},
		Default: m.DefaultTurf,
		Turf:    []protocol.Cell{},
		Obj:     []protocol.Cell{},
	}
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			if m.turf[x][y] != nil {
				s.Turf = append(s.Turf, protocol.Cell{X: x, Y: y, Value: m.turf[x][y]})
			}
			if m.obj[x][y] != nil {
				s.Obj = append(s.Obj, protocol.Cell{X: x, Y: y, Value: m.obj[x][y]})
			}
		}
	}
	return s
}

func (m *Map) fullSection() protocol.MapSection {
	return m.section(0, 0, m.Width-1, m.Height-1)
}

func (m *Map) setTurf(x, y int, v json.RawMessage) {
	m.turf[x][y] = v
	m.dirty = true
}

func (m *Map) setObjects(x, y int, v json.RawMessage) {
	m.obj[x][y] = v
	m.dirty = true
}

// clearRect wipes turf and/or object layers over a clamped rectangle.
func (m *Map) clearRect(x1, y1, x2, y2 int, turf, obj bool) {
	x1 = clamp(x1, 0, m.Width-1)
	y1 = clamp(y1, 0, m.Height-1)
	x2 = clamp(x2, 0, m.Width-1)
	y2 = clamp(y2, 0, m.Height-1)
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			if turf {
				m.turf[x][y] = nil
			}
			if obj {
				m.obj[x][y] = nil
			}
		}
	}
	m.dirty = true
}

// info builds the MAI payload. Owner-only fields ride along when full.
func (m *Map) info(full bool) protocol.MapInfo {
	info := protocol.MapInfo{
		Name:         m.Name,
		ID:           m.ID,
		Owner:        m.Owner,
		Default:      m.DefaultTurf,
		Size:         [2]int{m.Width, m.Height},
		Public:       m.Flags&MapFlagPublic != 0,
		Private:      m.Deny&PermEntry != 0,
		BuildEnabled: m.Deny&PermBuild == 0,
		FullSandbox:  m.Allow&PermSandbox != 0,
	}
	if full {
		start := [2]int{m.StartX, m.StartY}
		info.StartPos = &start
	}
	return info
}

func (m *Map) whoRoster() protocol.WhoRoster {
	list := make(map[string]protocol.WhoEntry, len(m.users))
	for u := range m.users {
		list[u.idString()] = u.who()
	}
	return protocol.WhoRoster{List: list}
}

// applyRecord replaces the map's metadata and grid from a stored row.
func (m *Map) applyRecord(rec store.MapRecord) {
	m.Name = rec.Name
	m.Desc = rec.Desc
	m.Owner = rec.Owner
	m.Flags = rec.Flags
	m.StartX = rec.StartX
	m.StartY = rec.StartY
	if rec.Width > 0 && rec.Height > 0 {
		m.Width = rec.Width
		m.Height = rec.Height
	}
	if rec.DefaultTurf != "" {
		m.DefaultTurf = rec.DefaultTurf
	}
	m.Allow = rec.Allow
	m.Deny = rec.Deny
	m.GuestDeny = rec.GuestDeny
	if rec.Tags != nil {
		m.Tags = rec.Tags
	}
	m.blank()
	for _, cell := range rec.Data.Turf {
		if m.inBounds(cell.X, cell.Y) {
			m.turf[cell.X][cell.Y] = cell.Value
		}
	}
	for _, cell := range rec.Data.Obj {
		if m.inBounds(cell.X, cell.Y) {
			m.obj[cell.X][cell.Y] = cell.Value
		}
	}
	m.dirty = false
}

func (m *Map) record() store.MapRecord {
	return store.MapRecord{
		ID:          m.ID,
		Name:        m.Name,
		Desc:        m.Desc,
		Owner:       m.Owner,
		Flags:       m.Flags,
		StartX:      m.StartX,
		StartY:      m.StartY,
		Width:       m.Width,
		Height:      m.Height,
		DefaultTurf: m.DefaultTurf,
		Allow:       m.Allow,
		Deny:        m.Deny,
		GuestDeny:   m.GuestDeny,
		Tags:        m.Tags,
		Data:        m.fullSection(),
	}
}
