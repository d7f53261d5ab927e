package protocol

import (
	"encoding/json"
	"fmt"
)

// IDN (client -> server)
type IdentifyPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// MOV (both directions; the server adds the mover's id on broadcast)
type MovePayload struct {
	From [2]int `json:"from"`
	To   [2]int `json:"to"`
}

type MoveNotice struct {
	ID        int64  `json:"id"`
	From      [2]int `json:"from"`
	To        [2]int `json:"to"`
	RemoteMap int64  `json:"remote_map,omitempty"`
}

// MSG (client -> server)
type ChatPayload struct {
	Text string `json:"text"`
}

// CMD (client -> server)
type CommandPayload struct {
	Text string `json:"text"`
}

// TSD / IMG asset lookups.
type AssetRequest struct {
	ID int64 `json:"id"`
}

// DEL: erase a rectangle of turfs and/or object stacks.
type DeletePayload struct {
	Pos  [4]int `json:"pos"`
	Turf bool   `json:"turf"`
	Obj  bool   `json:"obj"`
}

// PUT: place one turf value or one object stack at a cell.
type PutPayload struct {
	Pos  [2]int          `json:"pos"`
	Obj  bool            `json:"obj"`
	Atom json.RawMessage `json:"atom"`
}

// BLK: batched placement. Each entry is [x,y,value] or
// [x,y,value,width,height] for a rectangle fill.
type BulkPayload struct {
	Turf []json.RawMessage `json:"turf"`
	Obj  []json.RawMessage `json:"obj"`
}

// BulkCell is one decoded BLK entry.
type BulkCell struct {
	X, Y          int
	Value         json.RawMessage
	Width, Height int
}

func ParseBulkCell(raw json.RawMessage) (BulkCell, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return BulkCell{}, err
	}
	if len(parts) != 3 && len(parts) != 5 {
		return BulkCell{}, fmt.Errorf("bulk entry has %d elements", len(parts))
	}
	c := BulkCell{Width: 1, Height: 1, Value: parts[2]}
	if err := json.Unmarshal(parts[0], &c.X); err != nil {
		return BulkCell{}, err
	}
	if err := json.Unmarshal(parts[1], &c.Y); err != nil {
		return BulkCell{}, err
	}
	if len(parts) == 5 {
		if err := json.Unmarshal(parts[3], &c.Width); err != nil {
			return BulkCell{}, err
		}
		if err := json.Unmarshal(parts[4], &c.Height); err != nil {
			return BulkCell{}, err
		}
	}
	if c.Width < 1 || c.Height < 1 {
		return BulkCell{}, fmt.Errorf("bulk entry has non-positive fill size")
	}
	return c, nil
}

// BAG (client -> server)
type BagPayload struct {
	Create *BagCreate `json:"create,omitempty"`
	Clone  *int64     `json:"clone,omitempty"`
	Update *BagUpdate `json:"update,omitempty"`
	Delete *int64     `json:"delete,omitempty"`
}

type BagCreate struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

type BagUpdate struct {
	ID     int64           `json:"id"`
	Name   *string         `json:"name,omitempty"`
	Desc   *string         `json:"desc,omitempty"`
	Flags  *int            `json:"flags,omitempty"`
	Folder *int64          `json:"folder,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EML (client -> server)
type MailPayload struct {
	Send   *MailSend `json:"send,omitempty"`
	Read   *int64    `json:"read,omitempty"`
	Delete *int64    `json:"delete,omitempty"`
}

type MailSend struct {
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Contents string   `json:"contents"`

	// Filled in by the server before the receive-copy goes out.
	From string `json:"from,omitempty"`
	ID   int64  `json:"id,omitempty"`
}

// Cell is one non-empty grid cell, encoded on the wire and in storage
// as [x, y, value].
type Cell struct {
	X, Y  int
	Value json.RawMessage
}

func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{c.X, c.Y, c.Value})
}

func (c *Cell) UnmarshalJSON(b []byte) error {
	var parts [3]json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &c.X); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[1], &c.Y); err != nil {
		return err
	}
	c.Value = parts[2]
	return nil
}

// MAP (server -> client): a sparse rectangle of map contents. The same
// encoding is used for persisting a whole map.
type MapSection struct {
	Pos       [4]int `json:"pos"`
	Default   string `json:"default"`
	Turf      []Cell `json:"turf"`
	Obj       []Cell `json:"obj"`
	RemoteMap int64  `json:"remote_map,omitempty"`
}

// MAI (server -> client)
type MapInfo struct {
	Name         string  `json:"name"`
	ID           int64   `json:"id"`
	Owner        int64   `json:"owner"`
	Default      string  `json:"default"`
	Size         [2]int  `json:"size"`
	Public       bool    `json:"public"`
	Private      bool    `json:"private"`
	BuildEnabled bool    `json:"build_enabled"`
	FullSandbox  bool    `json:"full_sandbox"`
	StartPos     *[2]int `json:"start_pos,omitempty"`
	RemoteMap    int64   `json:"remote_map,omitempty"`
}

// WHO (server -> client): either a full roster or an add/remove delta.
type WhoEntry struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Username string          `json:"username,omitempty"`
	Pic      json.RawMessage `json:"pic"`
	X        int             `json:"x"`
	Y        int             `json:"y"`
}

type WhoRoster struct {
	List      map[string]WhoEntry `json:"list"`
	RemoteMap int64               `json:"remote_map,omitempty"`
}

type WhoAdd struct {
	Add       WhoEntry `json:"add"`
	RemoteMap int64    `json:"remote_map,omitempty"`
}

type WhoRemove struct {
	Remove    int64 `json:"remove"`
	RemoteMap int64 `json:"remote_map,omitempty"`
}

// PRI (server -> client)
type PrivateMessage struct {
	Text     string `json:"text"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Receive  bool   `json:"receive"`
}

// ERR / MSG (server -> client). Buttons come in label/command pairs.
type TextMessage struct {
	Text      string   `json:"text"`
	Name      string   `json:"name,omitempty"`
	Username  string   `json:"username,omitempty"`
	Buttons   []string `json:"buttons,omitempty"`
	RemoteMap int64    `json:"remote_map,omitempty"`
}
