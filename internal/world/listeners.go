package world

import (
	"fmt"
	"sort"
	"strings"

	"gridtown.io/internal/protocol"
)

// Broadcast categories a bot can subscribe to per map.
var listenCategories = map[string]bool{
	"move":  true,
	"build": true,
	"entry": true,
	"chat":  true,
}

// subscribe adds a client to one category on one map. Build access is
// the sensitive one, so it needs the map-bot permission, which also
// guards chat snooping on maps the bot's owner doesn't control.
func (w *World) subscribe(c *Client, category string, mapID int64) bool {
	m, err := w.getMap(mapID)
	if err != nil {
		c.sendError(fmt.Sprintf("Couldn't load map %d", mapID))
		return false
	}
	if !w.hasPermission(m, c, PermMapBot, false) && !w.isOwner(m, c, true) {
		c.sendError(fmt.Sprintf("Missing map_bot permission on map %d", mapID))
		return false
	}

	byMap, ok := w.listeners[category]
	if !ok {
		byMap = map[int64]map[*Client]struct{}{}
		w.listeners[category] = byMap
	}
	set, ok := byMap[mapID]
	if !ok {
		set = map[*Client]struct{}{}
		byMap[mapID] = set
	}
	set[c] = struct{}{}
	c.listening[listenKey{category, mapID}] = struct{}{}

	// catch the subscriber up with a snapshot of what it now watches
	switch category {
	case "build":
		c.send(protocol.TagMapInfo, withRemoteMap(m.info(false), mapID))
		c.send(protocol.TagMap, withRemoteMap(m.fullSection(), mapID))
	case "entry":
		c.send(protocol.TagWho, withRemoteMap(m.whoRoster(), mapID))
	}
	return true
}

func (w *World) unsubscribe(c *Client, category string, mapID int64) {
	if set, ok := w.listeners[category][mapID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(w.listeners[category], mapID)
		}
	}
	delete(c.listening, listenKey{category, mapID})
}

func (w *World) unsubscribeAll(c *Client) {
	for key := range c.listening {
		w.unsubscribe(c, key.category, key.mapID)
	}
}

// listenList renders a client's subscriptions as "category map" lines.
func listenList(c *Client) string {
	if len(c.listening) == 0 {
		return "Not listening to anything"
	}
	lines := make([]string, 0, len(c.listening))
	for key := range c.listening {
		lines = append(lines, fmt.Sprintf("%s %d", key.category, key.mapID))
	}
	sort.Strings(lines)
	return "Listening to: " + strings.Join(lines, ", ")
}
