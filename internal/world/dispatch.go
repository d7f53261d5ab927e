package world

import (
	"encoding/json"
	"errors"
	"fmt"

	"gridtown.io/internal/audit"
	"gridtown.io/internal/protocol"
	"gridtown.io/internal/store"
)

// dispatch routes one raw inbound message. Every valid frame counts as
// activity for the idle timer.
func (w *World) dispatch(c *Client, raw []byte) {
	frame, ok := protocol.DecodeFrame(raw)
	if !ok {
		return
	}
	c.idleTimer = 0

	if !protocol.KnownTag(frame.Tag) {
		c.sendError("Invalid server command")
		return
	}
	if err := protocol.ValidatePayload(frame.Tag, frame.Body); err != nil {
		c.sendError(err.Error())
		return
	}

	switch frame.Tag {
	case protocol.TagPing:
		c.pingTimer = pingStart
		return
	case protocol.TagIdentify:
		w.handleIdentify(c, frame.Body)
		return
	}

	// everything else needs a map binding
	if c.mapRef == nil {
		c.sendError("Identify first")
		return
	}

	switch frame.Tag {
	case protocol.TagMove:
		w.handleMove(c, frame.Body)
	case protocol.TagChat:
		w.handleChat(c, frame.Body)
	case protocol.TagCommand:
		var p protocol.CommandPayload
		if json.Unmarshal(frame.Body, &p) == nil {
			w.handleCommand(c, p.Text)
		}
	case protocol.TagMapInfo:
		c.send(protocol.TagMapInfo, c.mapRef.info(w.isOwner(c.mapRef, c, true)))
	case protocol.TagDelete:
		w.handleDelete(c, frame.Body)
	case protocol.TagPut:
		w.handlePut(c, frame.Body)
	case protocol.TagBulk:
		w.handleBulk(c, frame.Body)
	case protocol.TagBag:
		w.handleBag(c, frame.Body)
	case protocol.TagMail:
		w.handleMail(c, frame.Body)
	case protocol.TagTileset:
		w.handleAssetFetch(c, frame.Body, protocol.TagTileset, store.AssetTileset)
	case protocol.TagImage:
		w.handleAssetFetch(c, frame.Body, protocol.TagImage, store.AssetImage)
	}
}

// handleIdentify brings a fresh connection into the world, as a guest
// or by logging into an account, and drops it on its map.
func (w *World) handleIdentify(c *Client, body json.RawMessage) {
	if c.mapRef != nil {
		c.sendError("Already identified")
		return
	}

	if body != nil {
		var p protocol.IdentifyPayload
		if err := json.Unmarshal(body, &p); err != nil {
			c.sendError("Invalid identify payload")
			return
		}
		if p.Username != "" {
			// a failed login still joins the world as a guest
			_ = w.loginAccount(c, p.Username, p.Password)
		}
	}

	if w.cfg.MOTD != "" {
		c.sendMessage(w.cfg.MOTD)
	}
	c.sendMessage(fmt.Sprintf("Users connected: %d", len(w.clients)))

	if rec := c.lastSaved; rec != nil {
		pos := [2]int{rec.X, rec.Y}
		if w.switchMap(c, rec.MapID, &pos, false) {
			return
		}
	}
	w.switchMap(c, w.cfg.DefaultMap, nil, false)
}

// loginAccount verifies credentials and adopts the stored session
// state. A second login bumps the older connection.
func (w *World) loginAccount(c *Client, username, password string) bool {
	rec, err := w.store.VerifyAccount(username, password)
	if errors.Is(err, store.ErrBadCredential) {
		c.sendError("Login failed")
		return false
	}
	if err != nil {
		w.log.Printf("verify account %q: %v", username, err)
		c.sendError("Login failed")
		return false
	}

	if other := w.findClientByName(rec.Username); other != nil && other != c {
		w.disconnectClient(other, "Connected from another location")
	}
	if c.DB != 0 {
		// switching accounts mid-session: don't lose the old one's state
		w.saveClientAccount(c)
	}

	c.DB = rec.ID
	c.Username = rec.Username
	if rec.Name != "" {
		c.Name = rec.Name
	}
	if len(rec.Pic) != 0 {
		c.Pic = rec.Pic
	}
	c.Home = rec.Home
	c.Watch = listToSet(rec.Watch)
	c.Ignore = listToSet(rec.Ignore)
	c.lastSaved = &rec

	c.sendMessage("Logged in as " + c.Username)
	w.audit.Write(audit.Entry{Kind: "login", Conn: c.ID, User: c.Username})
	w.notifyWatchers(c, true)
	return true
}

func listToSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}

// notifyWatchers pings everyone whose watch list names this user.
func (w *World) notifyWatchers(c *Client, online bool) {
	if c.Username == "" {
		return
	}
	verb := "connected"
	if !online {
		verb = "disconnected"
	}
	for _, other := range w.clients {
		if other != c && other.Watch[c.Username] {
			other.sendMessage(c.nameAndUsername() + " has " + verb)
		}
	}
}

func (w *World) handleMove(c *Client, body json.RawMessage) {
	var p protocol.MovePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}
	m := c.mapRef
	w.broadcast(m, protocol.TagMove, protocol.MoveNotice{
		ID:   c.ID,
		From: p.From,
		To:   p.To,
	}, "move", nil)
	c.X = clamp(p.To[0], 0, m.Width-1)
	c.Y = clamp(p.To[1], 0, m.Height-1)
	for pas := range c.passengers {
		w.moveClient(pas, c.X, c.Y)
	}
}

func (w *World) handleChat(c *Client, body json.RawMessage) {
	var p protocol.ChatPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}
	text := protocol.EscapeTags(p.Text)
	w.broadcast(c.mapRef, protocol.TagChat, map[string]any{
		"text":     text,
		"name":     c.Name,
		"username": c.idString(),
	}, "chat", nil)
	w.audit.Write(audit.Entry{Kind: "chat", Conn: c.ID, User: c.Username, MapID: c.mapID(), Detail: text})
}
