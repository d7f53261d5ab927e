package world

import "gridtown.io/internal/protocol"

// tickOnce is the 1 Hz housekeeping pass. It returns false when a
// scheduled shutdown has counted out and the loop should exit.
func (w *World) tickOnce() bool {
	w.tickCount.Add(1)

	// request decay is silent: the client UI already showed buttons,
	// and a stale accept gets "no pending request"
	victims := []*Client{}
	for _, c := range w.clients {
		for key, req := range c.requests {
			req.ttl--
			if req.ttl < 0 {
				delete(c.requests, key)
			}
		}
		c.idleTimer++
		c.pingTimer--
		switch c.pingTimer {
		case 60, 30:
			c.send(protocol.TagPing, nil)
		}
		if c.pingTimer < 0 {
			victims = append(victims, c)
		}
	}
	for _, c := range victims {
		w.disconnectClient(c, "Ping timeout")
	}

	for _, m := range w.maps {
		if len(m.users) == 0 && !w.isAlwaysLoaded(m.ID) {
			w.unloadMap(m)
		}
	}

	switch {
	case w.shutdownTimer < 0:
		// no shutdown scheduled
	case w.shutdownTimer == 0:
		return false
	default:
		w.shutdownTimer--
		if w.shutdownTimer == 1 {
			w.broadcastAll("Server is going down!")
			for _, c := range w.clients {
				w.disconnectClient(c, "Server is shutting down")
			}
			w.saveAll()
		} else if w.shutdownTimer == 0 {
			return false
		}
	}
	return true
}
