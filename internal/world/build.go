package world

import (
	"encoding/json"

	"gridtown.io/internal/audit"
	"gridtown.io/internal/protocol"
	"gridtown.io/internal/validate"
)

// canBuild is the single-edit permission gate. Building defaults to
// allowed; map owners can deny it wholesale or per user.
func (w *World) canBuild(c *Client) bool {
	return w.hasPermission(c.mapRef, c, PermBuild, true) || w.isOwner(c.mapRef, c, true)
}

// rejectBuild refuses an edit: the authoritative section for the
// touched rectangle goes out first so the client can undo its local
// prediction, then the error.
func (w *World) rejectBuild(c *Client, x1, y1, x2, y2 int, reason string) {
	c.send(protocol.TagMap, c.mapRef.section(x1, y1, x2, y2))
	c.sendError(reason)
}

func (w *World) handleDelete(c *Client, body json.RawMessage) {
	var p protocol.DeletePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}
	x1, y1, x2, y2 := p.Pos[0], p.Pos[1], p.Pos[2], p.Pos[3]
	if !w.canBuild(c) {
		w.rejectBuild(c, x1, y1, x2, y2, "Building is disabled on this map")
		return
	}
	m := c.mapRef
	m.clearRect(x1, y1, x2, y2, p.Turf, p.Obj)
	w.broadcast(m, protocol.TagMap, m.section(x1, y1, x2, y2), "", nil)
	w.forwardToListeners(m, protocol.TagDelete, map[string]any{
		"pos":      p.Pos,
		"turf":     p.Turf,
		"obj":      p.Obj,
		"username": c.idString(),
	}, "build")
	w.audit.Write(audit.Entry{Kind: "build", Conn: c.ID, User: c.Username, MapID: m.ID, Detail: "del"})
}

func (w *World) handlePut(c *Client, body json.RawMessage) {
	var p protocol.PutPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}
	x, y := p.Pos[0], p.Pos[1]
	m := c.mapRef
	if !m.inBounds(x, y) {
		c.sendError("Out of bounds")
		return
	}
	if !w.canBuild(c) {
		w.rejectBuild(c, x, y, x, y, "Building is disabled on this map")
		return
	}

	if p.Obj {
		if ok, reason := objectStackOK(p.Atom); !ok {
			w.rejectBuild(c, x, y, x, y, reason)
			return
		}
		m.setObjects(x, y, p.Atom)
	} else {
		if ok, reason := validate.TileOK(p.Atom); !ok {
			w.rejectBuild(c, x, y, x, y, reason)
			return
		}
		m.setTurf(x, y, p.Atom)
	}

	w.broadcast(m, protocol.TagMap, m.section(x, y, x, y), "", nil)
	w.forwardToListeners(m, protocol.TagPut, map[string]any{
		"pos":      p.Pos,
		"obj":      p.Obj,
		"atom":     p.Atom,
		"username": c.idString(),
	}, "build")
	w.audit.Write(audit.Entry{Kind: "build", Conn: c.ID, User: c.Username, MapID: m.ID, Detail: "put"})
}

// objectStackOK validates an object-layer value: a JSON array whose
// every element passes the tile check.
func objectStackOK(raw json.RawMessage) (bool, string) {
	var stack []json.RawMessage
	if err := json.Unmarshal(raw, &stack); err != nil {
		return false, "Objects must be an array"
	}
	for _, tile := range stack {
		if ok, reason := validate.TileOK(tile); !ok {
			return false, reason
		}
	}
	return true, ""
}

// handleBulk applies a batched build. The whole batch is validated
// before any cell changes, so a bad entry leaves the map untouched.
func (w *World) handleBulk(c *Client, body json.RawMessage) {
	var p protocol.BulkPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}
	m := c.mapRef
	if !w.hasPermission(m, c, PermBulkBuild, false) && !w.isOwner(m, c, true) {
		c.sendError("You don't have permission to bulk build here")
		return
	}

	turf, ok := w.parseBulkEntries(c, m, p.Turf, false)
	if !ok {
		return
	}
	obj, ok := w.parseBulkEntries(c, m, p.Obj, true)
	if !ok {
		return
	}

	for _, cell := range turf {
		fillRect(m, cell, false)
	}
	for _, cell := range obj {
		fillRect(m, cell, true)
	}

	w.broadcast(m, protocol.TagBulk, map[string]any{
		"turf":     p.Turf,
		"obj":      p.Obj,
		"username": c.idString(),
	}, "build", nil)
	w.audit.Write(audit.Entry{Kind: "build", Conn: c.ID, User: c.Username, MapID: m.ID, Detail: "blk"})
}

// parseBulkEntries decodes and fully validates one BLK layer.
func (w *World) parseBulkEntries(c *Client, m *Map, raw []json.RawMessage, obj bool) ([]protocol.BulkCell, bool) {
	cells := make([]protocol.BulkCell, 0, len(raw))
	for _, entry := range raw {
		cell, err := protocol.ParseBulkCell(entry)
		if err != nil {
			c.sendError("Bad bulk entry")
			return nil, false
		}
		if !m.inBounds(cell.X, cell.Y) || !m.inBounds(cell.X+cell.Width-1, cell.Y+cell.Height-1) {
			c.sendError("Out of bounds")
			return nil, false
		}
		if obj {
			if ok, reason := objectStackOK(cell.Value); !ok {
				c.sendError(reason)
				return nil, false
			}
		} else {
			if ok, reason := validate.TileOK(cell.Value); !ok {
				c.sendError(reason)
				return nil, false
			}
		}
		cells = append(cells, cell)
	}
	return cells, true
}

func fillRect(m *Map, cell protocol.BulkCell, obj bool) {
	for dx := 0; dx < cell.Width; dx++ {
		for dy := 0; dy < cell.Height; dy++ {
			if obj {
				m.setObjects(cell.X+dx, cell.Y+dy, cell.Value)
			} else {
				m.setTurf(cell.X+dx, cell.Y+dy, cell.Value)
			}
		}
	}
}
