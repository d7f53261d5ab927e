package world

import "gridtown.io/internal/protocol"

// Offer kinds. The table lives on the target client, keyed by the
// requester's id string, so a requester can have at most one live
// offer per target.
const (
	requestTeleport     = "tpa"     // requester wants to come to the target
	requestTeleportHere = "tpahere" // requester wants the target to come over
	requestCarry        = "carry"   // requester wants to ride the target
)

// offerRequest files (or refreshes) a request on the target and tells
// them about it, with accept/decline buttons. A repeat before expiry
// only resets the clock.
func (w *World) offerRequest(c, target *Client, kind, describe string) {
	if w.blockedBy(c, target, "request things of") {
		return
	}
	key := c.idString()
	if existing, ok := target.requests[key]; ok && existing.kind == kind {
		existing.ttl = requestTTL
		c.sendMessage("Request refreshed")
		return
	}
	target.requests[key] = &request{kind: kind, ttl: requestTTL}
	target.send(protocol.TagChat, protocol.TextMessage{
		Text: c.nameAndUsername() + " " + describe,
		Buttons: []string{
			"Accept", "tpaccept " + key,
			"Decline", "tpdeny " + key,
		},
	})
	c.sendMessage("Request sent to " + target.nameAndUsername())
}

// acceptRequest consumes a pending offer on c made by the named party.
func (w *World) acceptRequest(c *Client, name string) {
	requester, req := w.takeRequest(c, name)
	if req == nil {
		return
	}
	c.sendMessage("Request accepted")
	requester.sendMessage(c.nameAndUsername() + " accepted your request")

	switch req.kind {
	case requestTeleport:
		pos := [2]int{c.X, c.Y}
		w.switchMap(requester, c.mapID(), &pos, true)
	case requestTeleportHere:
		pos := [2]int{requester.X, requester.Y}
		w.switchMap(c, requester.mapID(), &pos, true)
	case requestCarry:
		if requester.mapRef != c.mapRef {
			pos := [2]int{c.X, c.Y}
			if !w.switchMap(requester, c.mapID(), &pos, true) {
				return
			}
		}
		if !w.ride(requester, c) {
			c.sendError("Can't carry someone who's already riding")
			return
		}
		requester.sendMessage("You're now riding " + c.nameAndUsername())
		c.sendMessage("You're now carrying " + requester.nameAndUsername())
	}
}

func (w *World) declineRequest(c *Client, name string) {
	requester, req := w.takeRequest(c, name)
	if req == nil {
		return
	}
	c.sendMessage("Request declined")
	requester.sendMessage(c.nameAndUsername() + " declined your request")
}

// cancelRequest withdraws an offer c made to the named party. Only the
// requester hears about it.
func (w *World) cancelRequest(c *Client, name string) {
	target := w.findClientByName(name)
	if target == nil {
		w.failedToFind(c, name)
		return
	}
	if _, ok := target.requests[c.idString()]; !ok {
		c.sendError("No pending request to cancel")
		return
	}
	delete(target.requests, c.idString())
	c.sendMessage("Request cancelled")
}

// takeRequest pops the named requester's offer off c's table. Both a
// vanished requester and a missing offer produce the same error, so
// nothing leaks about who asked what.
func (w *World) takeRequest(c *Client, name string) (*Client, *request) {
	requester := w.findClientByName(name)
	if requester == nil {
		w.failedToFind(c, name)
		return nil, nil
	}
	req, ok := c.requests[requester.idString()]
	if !ok {
		c.sendError("No pending request from " + requester.nameAndUsername())
		return nil, nil
	}
	delete(c.requests, requester.idString())
	return requester, req
}

func (w *World) failedToFind(c *Client, name string) {
	if name == "" {
		c.sendError("Need a username")
		return
	}
	c.sendError("Can't find " + name)
}

// blockedBy answers whether the target's ignore list stops c, telling
// c when it does.
func (w *World) blockedBy(c, target *Client, action string) bool {
	if target.isIgnoring(c) {
		c.sendError("That user is ignoring you, so you can't " + action + " them")
		return true
	}
	return false
}
