package world

import (
	"encoding/json"
	"errors"
	"fmt"

	"gridtown.io/internal/protocol"
	"gridtown.io/internal/store"
	"gridtown.io/internal/validate"
)

func assetInfo(rec store.AssetRecord) map[string]any {
	info := map[string]any{
		"id":   rec.ID,
		"name": rec.Name,
		"desc": rec.Desc,
		"type": rec.Type,
	}
	if rec.Folder != nil {
		info["folder"] = *rec.Folder
	}
	if rec.Data != "" && json.Valid([]byte(rec.Data)) {
		info["data"] = json.RawMessage(rec.Data)
	}
	return info
}

// handleBag runs the item-storage operations. Guests have no rows to
// own, so the whole surface is registered-only.
func (w *World) handleBag(c *Client, body json.RawMessage) {
	if c.DB == 0 {
		c.sendError("Guests can't use item storage")
		return
	}
	var p protocol.BagPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}

	switch {
	case p.Create != nil:
		rec, err := w.store.CreateAsset(c.DB, p.Create.Name, p.Create.Type)
		if err != nil {
			w.log.Printf("bag create uid=%d: %v", c.DB, err)
			c.sendError("Couldn't create item")
			return
		}
		c.send(protocol.TagBag, map[string]any{"update": assetInfo(rec)})

	case p.Clone != nil:
		rec, err := w.store.CloneAsset(c.DB, *p.Clone)
		if errors.Is(err, store.ErrNotFound) {
			c.sendError("You don't have that item")
			return
		}
		if err != nil {
			w.log.Printf("bag clone uid=%d aid=%d: %v", c.DB, *p.Clone, err)
			c.sendError("Couldn't clone item")
			return
		}
		c.send(protocol.TagBag, map[string]any{"update": assetInfo(rec)})

	case p.Update != nil:
		w.updateAsset(c, p.Update)

	case p.Delete != nil:
		err := w.store.DeleteAsset(c.DB, *p.Delete)
		if errors.Is(err, store.ErrNotFound) {
			c.sendError("You don't have that item")
			return
		}
		if err != nil {
			w.log.Printf("bag delete uid=%d aid=%d: %v", c.DB, *p.Delete, err)
			c.sendError("Couldn't delete item")
			return
		}
		c.send(protocol.TagBag, map[string]any{"remove": *p.Delete})
	}
}

func (w *World) updateAsset(c *Client, up *protocol.BagUpdate) {
	rec, err := w.store.AssetOwned(c.DB, up.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.sendError("You don't have that item")
		return
	}
	if err != nil {
		w.log.Printf("bag update uid=%d aid=%d: %v", c.DB, up.ID, err)
		c.sendError("Couldn't update item")
		return
	}
	if up.Name != nil {
		rec.Name = *up.Name
	}
	if up.Desc != nil {
		rec.Desc = *up.Desc
	}
	if up.Flags != nil {
		rec.Flags = int64(*up.Flags)
	}
	if up.Folder != nil {
		rec.Folder = up.Folder
	}
	if up.Data != nil {
		if rec.Type == store.AssetTile {
			if ok, reason := validate.TileOK(up.Data); !ok {
				c.sendError(reason)
				return
			}
		}
		if rec.Type == store.AssetImage {
			var url string
			if json.Unmarshal(up.Data, &url) != nil || !w.imageOK.ImageURLOK(url) {
				c.sendError("That image URL isn't whitelisted")
				return
			}
		}
		rec.Data = string(up.Data)
	}
	if err := w.store.UpdateAsset(rec); err != nil {
		w.log.Printf("bag update uid=%d aid=%d: %v", c.DB, up.ID, err)
		c.sendError("Couldn't update item")
		return
	}
	c.send(protocol.TagBag, map[string]any{"update": assetInfo(rec)})
}

// handleMail covers send/read/delete. Each recipient gets their own
// copy; a single unknown name fails the whole send.
func (w *World) handleMail(c *Client, body json.RawMessage) {
	if c.DB == 0 {
		c.sendError("Guests can't use mail")
		return
	}
	var p protocol.MailPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}

	switch {
	case p.Send != nil:
		w.sendMail(c, p.Send)
	case p.Read != nil:
		if err := w.store.MarkMailRead(c.DB, *p.Read); err != nil {
			w.log.Printf("mail read uid=%d id=%d: %v", c.DB, *p.Read, err)
		}
	case p.Delete != nil:
		if err := w.store.DeleteMail(c.DB, *p.Delete); err != nil {
			w.log.Printf("mail delete uid=%d id=%d: %v", c.DB, *p.Delete, err)
			return
		}
		c.sendMessage("Mail deleted")
	}
}

func (w *World) sendMail(c *Client, m *protocol.MailSend) {
	recipients := make([]int64, 0, len(m.To))
	names := make([]string, 0, len(m.To))
	for _, name := range m.To {
		uid, ok, err := w.store.AccountIDByUsername(name)
		if err != nil {
			w.log.Printf("mail lookup %q: %v", name, err)
			c.sendError("Couldn't send mail")
			return
		}
		if !ok {
			c.sendError(fmt.Sprintf("Couldn't find account: %s", name))
			return
		}
		recipients = append(recipients, uid)
		names = append(names, store.NormalizeUsername(name))
	}

	recipientList, _ := json.Marshal(names)
	for i, uid := range recipients {
		id, err := w.store.SendMail(uid, c.DB, string(recipientList), m.Subject, m.Contents)
		if err != nil {
			w.log.Printf("mail send uid=%d: %v", uid, err)
			c.sendError("Couldn't send mail")
			return
		}
		if online := w.findClientByName(names[i]); online != nil {
			delivered := *m
			delivered.From = c.Username
			delivered.ID = id
			online.send(protocol.TagMail, map[string]any{"receive": delivered})
			online.sendMessage("You've got mail! (from " + c.Username + ")")
		}
	}
	c.sendMessage("Mail sent")
}

// handleAssetFetch serves TSD and IMG lookups by asset id.
func (w *World) handleAssetFetch(c *Client, body json.RawMessage, tag string, typ int) {
	var p protocol.AssetRequest
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}
	data, err := w.store.AssetData(p.ID, typ)
	if errors.Is(err, store.ErrNotFound) {
		c.sendError("Invalid item id")
		return
	}
	if err != nil {
		w.log.Printf("asset fetch id=%d type=%d: %v", p.ID, typ, err)
		c.sendError("Couldn't fetch that")
		return
	}
	reply := map[string]any{"id": p.ID}
	key := "data"
	if tag == protocol.TagImage {
		key = "url"
	}
	if json.Valid([]byte(data)) {
		reply[key] = json.RawMessage(data)
	} else {
		reply[key] = data
	}
	c.send(tag, reply)
}
