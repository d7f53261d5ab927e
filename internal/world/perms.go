package world

// Permission bits. Each is independently allow/deny-able at map
// default, guest default, and per-user granularity.
const (
	PermEntry int64 = 1 << iota
	PermBuild
	PermSandbox
	PermAdmin
	PermBulkBuild
	PermMapBot
)

var permissionNames = map[string]int64{
	"entry":      PermEntry,
	"build":      PermBuild,
	"sandbox":    PermSandbox,
	"admin":      PermAdmin,
	"bulk_build": PermBulkBuild,
	"map_bot":    PermMapBot,
}

// Map flag bits.
const MapFlagPublic int64 = 1 << 0

// resolvePermission evaluates one bit. Order matters: map allow, then
// map deny, then for guests the guest deny (and stop — overrides never
// apply to guests), then the per-user override's allow and deny.
func resolvePermission(m *Map, perm int64, def bool, guest bool, override *overrideMasks) bool {
	has := def
	if m.Allow&perm != 0 {
		has = true
	}
	if m.Deny&perm != 0 {
		has = false
	}
	if guest {
		if m.GuestDeny&perm != 0 {
			has = false
		}
		return has
	}
	if override == nil {
		return has
	}
	if override.Allow&perm != 0 {
		has = true
	}
	if override.Deny&perm != 0 {
		has = false
	}
	return has
}

type overrideMasks struct {
	Allow int64
	Deny  int64
}

// hasPermission answers the full model for a connection on a map,
// fetching the override row for registered users.
func (w *World) hasPermission(m *Map, c *Client, perm int64, def bool) bool {
	if c.DB == 0 {
		return resolvePermission(m, perm, def, true, nil)
	}
	allow, deny, ok, err := w.store.MapPermission(m.ID, c.DB)
	if err != nil {
		w.log.Printf("permission lookup map=%d uid=%d: %v", m.ID, c.DB, err)
		return resolvePermission(m, perm, def, false, nil)
	}
	if !ok {
		return resolvePermission(m, perm, def, false, nil)
	}
	return resolvePermission(m, perm, def, false, &overrideMasks{Allow: allow, Deny: deny})
}

// isOwner reports ownership; with adminOK the map's admin bit counts.
func (w *World) isOwner(m *Map, c *Client, adminOK bool) bool {
	if c.DB != 0 && c.DB == m.Owner {
		return true
	}
	if adminOK && w.hasPermission(m, c, PermAdmin, false) {
		return true
	}
	return false
}

// mustBeOwner is isOwner plus the standard error reply.
func (w *World) mustBeOwner(m *Map, c *Client, adminOK bool) bool {
	if w.isOwner(m, c, adminOK) {
		return true
	}
	c.sendError("You don't have permission to do that")
	return false
}

func (w *World) isServerAdmin(c *Client) bool {
	return c.Username != "" && w.admins[c.Username]
}

func (w *World) mustBeServerAdmin(c *Client) bool {
	if w.isServerAdmin(c) {
		return true
	}
	c.sendError("You don't have permission to do that")
	return false
}
