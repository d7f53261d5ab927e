package world

import (
	"encoding/json"
	"strconv"

	"gridtown.io/internal/protocol"
	"gridtown.io/internal/store"
)

const (
	pingStart      = 300 // seconds until a silent connection is dropped
	requestTTL     = 600 // seconds a tpa/tpahere/carry offer stays valid
	historyMaxLen  = 20
	sendBufferSize = 128
)

var defaultPic = json.RawMessage(`[0, 2, 25]`)

// request is a pending offer another connection made to this one,
// keyed in Client.requests by the requester's id string.
type request struct {
	kind string // tpa, tpahere, carry
	ttl  int
}

type listenKey struct {
	category string
	mapID    int64
}

// Client is one connected session. Only the world goroutine touches it
// after registration; the out channel is the sole bridge back to the
// transport.
type Client struct {
	ID    int64
	out   chan []byte
	close func()

	Name     string
	Pic      json.RawMessage
	Username string // normalized; empty for guests
	DB       int64  // account row id; 0 for guests

	mapRef *Map
	X, Y   int

	Away string
	Home *[3]int64

	// session state loaded at login, consulted once for map placement
	lastSaved *store.AccountRecord

	idleTimer int
	pingTimer int

	Ignore map[string]bool
	Watch  map[string]bool

	requests  map[string]*request
	history   [][3]int64
	listening map[listenKey]struct{}

	vehicle    *Client
	passengers map[*Client]struct{}

	dropped int64 // frames discarded because the transport stalled
	gone    bool
}

func newClient(id int64, out chan []byte, closeFn func()) *Client {
	return &Client{
		ID:         id,
		out:        out,
		close:      closeFn,
		Name:       "Guest " + strconv.FormatInt(id, 10),
		Pic:        defaultPic,
		pingTimer:  pingStart,
		Ignore:     map[string]bool{},
		Watch:      map[string]bool{},
		requests:   map[string]*request{},
		listening:  map[listenKey]struct{}{},
		passengers: map[*Client]struct{}{},
	}
}

// send encodes one frame and hands it to the transport without
// blocking; a stalled writer loses frames rather than the world loop.
func (c *Client) send(tag string, payload any) {
	if c == nil || c.gone {
		return
	}
	raw, err := protocol.EncodeFrame(tag, payload)
	if err != nil {
		return
	}
	select {
	case c.out <- raw:
	default:
		c.dropped++
	}
}

func (c *Client) sendMessage(text string) {
	c.send(protocol.TagChat, protocol.TextMessage{Text: text})
}

func (c *Client) sendError(text string) {
	c.send(protocol.TagError, protocol.TextMessage{Text: text})
}

// idString names the client in rosters and request tables: the
// username when registered, the connection id otherwise.
func (c *Client) idString() string {
	if c.Username != "" {
		return c.Username
	}
	return strconv.FormatInt(c.ID, 10)
}

// nameAndUsername renders "Name (username)" for chat attribution.
func (c *Client) nameAndUsername() string {
	return c.Name + " (" + c.idString() + ")"
}

func (c *Client) who() protocol.WhoEntry {
	return protocol.WhoEntry{
		ID:       c.ID,
		Name:     c.Name,
		Username: c.Username,
		Pic:      c.Pic,
		X:        c.X,
		Y:        c.Y,
	}
}

func (c *Client) mapID() int64 {
	if c.mapRef == nil {
		return 0
	}
	return c.mapRef.ID
}

// pushHistory records the current position for the goback command.
func (c *Client) pushHistory() {
	if c.mapRef == nil {
		return
	}
	c.history = append(c.history, [3]int64{c.mapRef.ID, int64(c.X), int64(c.Y)})
	if len(c.history) > historyMaxLen {
		c.history = c.history[len(c.history)-historyMaxLen:]
	}
}

func (c *Client) popHistory() ([3]int64, bool) {
	if len(c.history) == 0 {
		return [3]int64{}, false
	}
	last := c.history[len(c.history)-1]
	c.history = c.history[:len(c.history)-1]
	return last, true
}

// isIgnoring checks the ignore list by the other party's id string.
func (c *Client) isIgnoring(other *Client) bool {
	return c.Ignore[other.idString()]
}
