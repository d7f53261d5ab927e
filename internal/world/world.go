// Package world runs the authoritative state of the town: every map,
// every connection, every tick. A single goroutine owns all of it;
// transports talk to that goroutine exclusively through channels.
package world

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"gridtown.io/internal/audit"
	"gridtown.io/internal/config"
	"gridtown.io/internal/protocol"
	"gridtown.io/internal/store"
	"gridtown.io/internal/validate"
)

// ConnectRequest registers a new transport with the world. Resp
// receives the connection id the world assigned.
type ConnectRequest struct {
	Out   chan []byte
	Close func()
	Resp  chan int64
}

// Envelope is one raw inbound message from a transport.
type Envelope struct {
	ConnID int64
	Raw    []byte
}

type World struct {
	cfg   config.Config
	store *store.Store
	log   *log.Logger
	audit *audit.Logger

	clients map[int64]*Client
	maps    map[int64]*Map

	// listeners[category][mapID] is the set of subscribed clients.
	listeners map[string]map[int64]map[*Client]struct{}

	shutdownTimer int // -1 when no shutdown is scheduled

	nextConnID int64
	imageOK    validate.URLAllowlist
	admins     map[string]bool

	connect chan ConnectRequest
	inbox   chan Envelope
	leave   chan int64

	clientCount atomic.Int64
	mapCount    atomic.Int64
	tickCount   atomic.Int64
}

func New(cfg config.Config, st *store.Store, logger *log.Logger, auditLog *audit.Logger) *World {
	admins := make(map[string]bool, len(cfg.Admins))
	for _, name := range cfg.Admins {
		admins[store.NormalizeUsername(name)] = true
	}
	return &World{
		cfg:           cfg,
		store:         st,
		log:           logger,
		audit:         auditLog,
		clients:       map[int64]*Client{},
		maps:          map[int64]*Map{},
		listeners:     map[string]map[int64]map[*Client]struct{}{},
		shutdownTimer: -1,
		imageOK:       validate.URLAllowlist(cfg.ImageURLWhitelist),
		admins:        admins,
		connect:       make(chan ConnectRequest, 16),
		inbox:         make(chan Envelope, 256),
		leave:         make(chan int64, 64),
	}
}

func (w *World) Connect() chan<- ConnectRequest { return w.connect }
func (w *World) Inbox() chan<- Envelope         { return w.inbox }
func (w *World) Leave() chan<- int64            { return w.leave }

// Metrics is a point-in-time snapshot safe to read off-loop.
type Metrics struct {
	Clients int64
	Maps    int64
	Ticks   int64
}

func (w *World) Snapshot() Metrics {
	return Metrics{
		Clients: w.clientCount.Load(),
		Maps:    w.mapCount.Load(),
		Ticks:   w.tickCount.Load(),
	}
}

// Run owns all world state until the context ends or a scheduled
// shutdown counts out. Always-loaded maps come up before the first
// connection is accepted.
func (w *World) Run(ctx context.Context) error {
	for _, id := range w.alwaysLoaded() {
		if _, err := w.getMap(id); err != nil {
			w.log.Printf("preload map %d: %v", id, err)
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.saveAll()
			return ctx.Err()
		case req := <-w.connect:
			w.acceptConnection(req)
		case env := <-w.inbox:
			if c, ok := w.clients[env.ConnID]; ok {
				w.dispatch(c, env.Raw)
			}
		case id := <-w.leave:
			if c, ok := w.clients[id]; ok {
				w.disconnectClient(c, "")
			}
		case <-ticker.C:
			if !w.tickOnce() {
				w.saveAll()
				return nil
			}
		}
	}
}

func (w *World) alwaysLoaded() []int64 {
	ids := append([]int64(nil), w.cfg.AlwaysLoadedMaps...)
	for _, id := range ids {
		if id == w.cfg.DefaultMap {
			return ids
		}
	}
	return append(ids, w.cfg.DefaultMap)
}

func (w *World) isAlwaysLoaded(id int64) bool {
	for _, a := range w.alwaysLoaded() {
		if a == id {
			return true
		}
	}
	return false
}

func (w *World) acceptConnection(req ConnectRequest) {
	w.nextConnID++
	c := newClient(w.nextConnID, req.Out, req.Close)
	w.clients[c.ID] = c
	w.clientCount.Store(int64(len(w.clients)))
	req.Resp <- c.ID
	w.audit.Write(audit.Entry{Kind: "connect", Conn: c.ID})
	w.log.Printf("conn %d connected", c.ID)
}

// getMap returns a loaded map, pulling it from the store or creating a
// fresh grid for ids that were registered but never saved.
func (w *World) getMap(id int64) (*Map, error) {
	if m, ok := w.maps[id]; ok {
		return m, nil
	}
	m := newMap(id)
	rec, err := w.store.LoadMap(id)
	switch {
	case err == nil:
		m.applyRecord(rec)
	case errors.Is(err, store.ErrNotFound):
		// brand new map, keep the defaults
	default:
		return nil, err
	}
	w.maps[id] = m
	w.mapCount.Store(int64(len(w.maps)))
	w.log.Printf("map %d loaded (%q)", id, m.Name)
	return m, nil
}

func (w *World) saveMap(m *Map) {
	if err := w.store.SaveMap(m.record()); err != nil {
		w.log.Printf("save map %d: %v", m.ID, err)
		return
	}
	m.dirty = false
}

func (w *World) unloadMap(m *Map) {
	w.saveMap(m)
	delete(w.maps, m.ID)
	w.mapCount.Store(int64(len(w.maps)))
	w.log.Printf("map %d unloaded", m.ID)
}

func (w *World) saveAll() {
	for _, m := range w.maps {
		w.saveMap(m)
	}
	for _, c := range w.clients {
		w.saveClientAccount(c)
	}
}

func (w *World) saveClientAccount(c *Client) {
	if c.DB == 0 {
		return
	}
	rec := store.AccountRecord{
		ID:       c.DB,
		Username: c.Username,
		Name:     c.Name,
		Pic:      c.Pic,
		MapID:    c.mapID(),
		X:        c.X,
		Y:        c.Y,
		Home:     c.Home,
		Watch:    setToList(c.Watch),
		Ignore:   setToList(c.Ignore),
	}
	if err := w.store.SaveAccount(rec); err != nil {
		w.log.Printf("save account %q: %v", c.Username, err)
	}
}

func setToList(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// findClientByName matches a normalized username first, then a numeric
// connection id so guests stay addressable.
func (w *World) findClientByName(name string) *Client {
	name = store.NormalizeUsername(name)
	for _, c := range w.clients {
		if c.Username != "" && c.Username == name {
			return c
		}
	}
	for _, c := range w.clients {
		if c.Username == "" && c.idString() == name {
			return c
		}
	}
	return nil
}

// switchMap moves a client to another map, running the entry
// permission check and emitting the standard join sequence (MAI, MAP,
// WHO roster to the mover; WHO add to the room). Passengers are pulled
// along afterwards.
func (w *World) switchMap(c *Client, id int64, pos *[2]int, recordHistory bool) bool {
	m, err := w.getMap(id)
	if err != nil {
		c.sendError("Couldn't load that map")
		return false
	}
	if !w.hasPermission(m, c, PermEntry, true) && !w.isOwner(m, c, true) && !w.isServerAdmin(c) {
		c.sendError("That map is private")
		return false
	}

	if c.mapRef == m {
		// same map, just a teleport
		if recordHistory {
			c.pushHistory()
		}
	} else {
		if c.mapRef != nil {
			if recordHistory {
				c.pushHistory()
			}
			w.removeFromMap(c)
		}
		c.mapRef = m
		m.users[c] = struct{}{}
	}

	if pos != nil {
		c.X, c.Y = pos[0], pos[1]
	} else {
		c.X, c.Y = m.StartX, m.StartY
	}
	c.X = clamp(c.X, 0, m.Width-1)
	c.Y = clamp(c.Y, 0, m.Height-1)

	c.send(protocol.TagMapInfo, m.info(w.isOwner(m, c, true)))
	c.send(protocol.TagMap, m.fullSection())
	c.send(protocol.TagWho, m.whoRoster())
	w.broadcast(m, protocol.TagWho, map[string]any{"add": c.who()}, "entry", nil)
	w.audit.Write(audit.Entry{Kind: "entry", Conn: c.ID, User: c.Username, MapID: m.ID})

	for p := range c.passengers {
		if p.mapRef != m {
			w.switchMap(p, id, &[2]int{c.X, c.Y}, false)
		} else {
			p.X, p.Y = c.X, c.Y
		}
	}
	return true
}

// removeFromMap detaches a client from its current map and tells the
// room. No WHO goes to the leaving client itself.
func (w *World) removeFromMap(c *Client) {
	m := c.mapRef
	if m == nil {
		return
	}
	delete(m.users, c)
	c.mapRef = nil
	w.broadcast(m, protocol.TagWho, map[string]any{"remove": c.ID}, "entry", nil)
}

// sendHome returns a client to their saved home, or the default map.
func (w *World) sendHome(c *Client) bool {
	if c.Home != nil {
		pos := [2]int{int(c.Home[1]), int(c.Home[2])}
		return w.switchMap(c, c.Home[0], &pos, true)
	}
	return w.switchMap(c, w.cfg.DefaultMap, nil, true)
}

// ride attaches passenger to vehicle. The relation stays one level
// deep: a mounted or mounted-upon client can't take either role again.
func (w *World) ride(passenger, vehicle *Client) bool {
	if passenger == vehicle || passenger.vehicle != nil ||
		len(passenger.passengers) != 0 || vehicle.vehicle != nil {
		return false
	}
	passenger.vehicle = vehicle
	vehicle.passengers[passenger] = struct{}{}
	w.moveClient(passenger, vehicle.X, vehicle.Y)
	return true
}

func (w *World) dismount(passenger *Client) {
	v := passenger.vehicle
	if v == nil {
		return
	}
	passenger.vehicle = nil
	delete(v.passengers, passenger)
}

// moveClient applies a position change and announces it, then drags
// any passengers to the same cell.
func (w *World) moveClient(c *Client, x, y int) {
	m := c.mapRef
	if m == nil {
		return
	}
	from := [2]int{c.X, c.Y}
	c.X = clamp(x, 0, m.Width-1)
	c.Y = clamp(y, 0, m.Height-1)
	w.broadcast(m, protocol.TagMove, protocol.MoveNotice{
		ID:   c.ID,
		From: from,
		To:   [2]int{c.X, c.Y},
	}, "move", nil)
	for p := range c.passengers {
		w.moveClient(p, c.X, c.Y)
	}
}

// broadcast fans a payload out to a map's occupants (except skip) and
// then to that map's listeners in the given category. Listener copies
// carry remote_map; occupants already subscribed are not sent twice.
func (w *World) broadcast(m *Map, tag string, payload any, category string, skip *Client) {
	for u := range m.users {
		if u == skip {
			continue
		}
		u.send(tag, payload)
	}
	if category == "" {
		return
	}
	subs := w.listeners[category][m.ID]
	if len(subs) == 0 {
		return
	}
	remote := withRemoteMap(payload, m.ID)
	for l := range subs {
		if l == skip {
			continue
		}
		if _, onMap := m.users[l]; onMap {
			continue
		}
		l.send(tag, remote)
	}
}

// forwardToListeners delivers a payload to a map's listeners in the
// given category only, never to occupants. Build edits use this: the
// room gets the refreshed MAP section while listeners get the raw
// edit, so even an on-map subscriber receives the forwarded copy.
func (w *World) forwardToListeners(m *Map, tag string, payload any, category string) {
	subs := w.listeners[category][m.ID]
	if len(subs) == 0 {
		return
	}
	remote := withRemoteMap(payload, m.ID)
	for l := range subs {
		l.send(tag, remote)
	}
}

// withRemoteMap stamps the originating map onto a listener copy.
func withRemoteMap(payload any, id int64) any {
	switch p := payload.(type) {
	case map[string]any:
		out := make(map[string]any, len(p)+1)
		for k, v := range p {
			out[k] = v
		}
		out["remote_map"] = id
		return out
	case protocol.MoveNotice:
		p.RemoteMap = id
		return p
	case protocol.MapSection:
		p.RemoteMap = id
		return p
	case protocol.MapInfo:
		p.RemoteMap = id
		return p
	case protocol.TextMessage:
		p.RemoteMap = id
		return p
	case protocol.WhoRoster:
		p.RemoteMap = id
		return p
	default:
		return payload
	}
}

func (w *World) broadcastAll(text string) {
	for _, c := range w.clients {
		c.sendMessage(text)
	}
}

// disconnectClient unwinds everything a session holds: account state
// is saved, listener subscriptions and cross-client requests drop, the
// ride relation unwinds, and the room hears the departure.
func (w *World) disconnectClient(c *Client, reason string) {
	if c.gone {
		return
	}
	if reason != "" {
		// one last frame before the transport goes away
		c.sendError(reason)
	}
	c.gone = true

	w.saveClientAccount(c)
	w.notifyWatchers(c, false)
	w.unsubscribeAll(c)

	id := c.idString()
	for _, other := range w.clients {
		delete(other.requests, id)
	}

	w.dismount(c)
	for p := range c.passengers {
		p.vehicle = nil
		delete(c.passengers, p)
	}

	w.removeFromMap(c)
	delete(w.clients, c.ID)
	w.clientCount.Store(int64(len(w.clients)))

	if c.close != nil {
		c.close()
	}
	w.audit.Write(audit.Entry{Kind: "disconnect", Conn: c.ID, User: c.Username, Detail: reason})
	w.log.Printf("conn %d disconnected (%s)", c.ID, reason)
}
