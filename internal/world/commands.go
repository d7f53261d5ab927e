package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"gridtown.io/internal/audit"
	"gridtown.io/internal/protocol"
	"gridtown.io/internal/store"
	"gridtown.io/internal/validate"
)

type cmdFunc func(w *World, c *Client, arg string)

var commands map[string]cmdFunc

func init() {
	commands = map[string]cmdFunc{
		"nick":    cmdNick,
		"tell":    cmdTell,
		"time":    cmdTime,
		"away":    cmdAway,
		"roll":    cmdRoll,
		"who":     cmdWho,
		"gwho":    cmdGlobalWho,
		"userpic": cmdUserPic,

		"carry":    cmdCarry,
		"dropoff":  cmdDropoff,
		"carrywho": cmdCarryWho,
		"ridewho":  cmdRideWho,
		"rideend":  cmdRideEnd,
		"tpa":      cmdTeleportAsk,
		"tpahere":  cmdTeleportAskHere,
		"tpaccept": cmdTeleportAccept,
		"tpdeny":   cmdTeleportDeny,
		"tpcancel": cmdTeleportCancel,

		"mapid":      cmdMapID,
		"newmap":     cmdNewMap,
		"map":        cmdMap,
		"goback":     cmdGoBack,
		"sethome":    cmdSetHome,
		"home":       cmdHome,
		"whereare":   cmdWhereAre,
		"mymaps":     cmdMyMaps,
		"publicmaps": cmdPublicMaps,

		"ignore":     cmdIgnore,
		"unignore":   cmdUnignore,
		"ignorelist": cmdIgnoreList,
		"watch":      cmdWatch,
		"unwatch":    cmdUnwatch,
		"watchlist":  cmdWatchList,

		"grant":    cmdGrant,
		"deny":     cmdDeny,
		"revoke":   cmdRevoke,
		"permlist": cmdPermList,

		"mapname":      cmdMapName,
		"mapdesc":      cmdMapDesc,
		"mapowner":     cmdMapOwner,
		"mapprivacy":   cmdMapPrivacy,
		"mapprotect":   cmdMapProtect,
		"mapbuild":     cmdMapBuild,
		"mapspawn":     cmdMapSpawn,
		"defaultfloor": cmdDefaultFloor,
		"savemap":      cmdSaveMap,

		"saveme":     cmdSaveMe,
		"changepass": cmdChangePass,
		"register":   cmdRegister,
		"login":      cmdLogin,

		"listen":    cmdListen,
		"unlisten":  cmdUnlisten,
		"listeners": cmdListeners,

		"kick":      cmdKick,
		"kickban":   cmdKickBan,
		"broadcast": cmdBroadcast,
		"kill":      cmdKill,
		"shutdown":  cmdShutdown,
	}
	// aliases
	commands["msg"] = cmdTell
	commands["p"] = cmdTell
	commands["hopon"] = cmdTeleportAccept
	commands["hopoff"] = cmdHopOff
	commands["tpdecline"] = cmdTeleportDeny
	commands["wa"] = cmdWhereAre
}

// handleCommand splits "verb rest-of-line" and dispatches. Unknown
// verbs answer with an error rather than being dropped.
func (w *World) handleCommand(c *Client, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	verb, arg, _ := strings.Cut(text, " ")
	verb = strings.ToLower(verb)
	arg = strings.TrimSpace(arg)

	fn, ok := commands[verb]
	if !ok {
		c.sendError("Invalid command")
		return
	}
	fn(w, c, arg)
}

func cmdNick(w *World, c *Client, arg string) {
	name := strings.TrimSpace(protocol.EscapeTags(arg))
	if name == "" {
		c.sendError("Name can't be empty")
		return
	}
	old := c.nameAndUsername()
	c.Name = name
	w.broadcast(c.mapRef, protocol.TagChat, map[string]any{
		"text": old + " is now known as " + c.nameAndUsername(),
	}, "", nil)
	w.broadcast(c.mapRef, protocol.TagWho, map[string]any{"add": c.who()}, "entry", nil)
}

func cmdTell(w *World, c *Client, arg string) {
	name, text, ok := strings.Cut(arg, " ")
	if !ok || strings.TrimSpace(text) == "" {
		c.sendError("Tell who what?")
		return
	}
	target := w.findClientByName(name)
	if target == nil {
		w.failedToFind(c, name)
		return
	}
	if w.blockedBy(c, target, "message") {
		return
	}
	text = protocol.EscapeTags(strings.TrimSpace(text))
	c.send(protocol.TagPrivate, protocol.PrivateMessage{
		Text: text, Name: target.Name, Username: target.idString(), Receive: false,
	})
	target.send(protocol.TagPrivate, protocol.PrivateMessage{
		Text: text, Name: c.Name, Username: c.idString(), Receive: true,
	})
	if target.Away != "" {
		c.sendMessage(target.Name + " is away: " + target.Away)
	}
}

func cmdTime(w *World, c *Client, arg string) {
	c.sendMessage(time.Now().Format("2006-01-02 15:04:05"))
}

func cmdAway(w *World, c *Client, arg string) {
	if arg == "" {
		c.Away = ""
		c.sendMessage("You are no longer marked as away")
		return
	}
	c.Away = protocol.EscapeTags(arg)
	c.sendMessage("You are now marked as away: " + c.Away)
}

func cmdRoll(w *World, c *Client, arg string) {
	dice, sides := 1, 6
	if arg != "" {
		d, s, ok := strings.Cut(strings.ToLower(arg), "d")
		var err1, err2 error
		if ok {
			dice, err1 = strconv.Atoi(d)
			sides, err2 = strconv.Atoi(s)
		} else {
			sides, err1 = strconv.Atoi(arg)
		}
		if err1 != nil || err2 != nil || dice < 1 || dice > 1000 || sides < 1 {
			c.sendError("Invalid dice")
			return
		}
	}
	total := 0
	for i := 0; i < dice; i++ {
		total += rand.Intn(sides) + 1
	}
	w.broadcast(c.mapRef, protocol.TagChat, map[string]any{
		"text": fmt.Sprintf("%s rolled %dd%d and got %d!", c.nameAndUsername(), dice, sides, total),
	}, "", nil)
}

func cmdWho(w *World, c *Client, arg string) {
	names := make([]string, 0, len(c.mapRef.users))
	for u := range c.mapRef.users {
		names = append(names, u.nameAndUsername())
	}
	sort.Strings(names)
	c.sendMessage("Users here: " + strings.Join(names, ", "))
}

func cmdGlobalWho(w *World, c *Client, arg string) {
	names := make([]string, 0, len(w.clients))
	for _, u := range w.clients {
		names = append(names, u.nameAndUsername())
	}
	sort.Strings(names)
	c.sendMessage("Users connected: " + strings.Join(names, ", "))
}

var picPresets = map[string]string{
	"bunny":   `[0, 2, 25]`,
	"cat":     `[0, 2, 26]`,
	"hamster": `[0, 8, 25]`,
	"fire":    `[0, 4, 26]`,
}

func cmdUserPic(w *World, c *Client, arg string) {
	switch {
	case picPresets[arg] != "":
		c.Pic = []byte(picPresets[arg])
	case strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://"):
		if !w.imageOK.ImageURLOK(arg) {
			c.sendError("That image URL isn't whitelisted")
			return
		}
		b, _ := json.Marshal([]any{arg, 0, 0})
		c.Pic = b
	default:
		parts := strings.Fields(arg)
		if len(parts) != 2 {
			c.sendError("Invalid picture")
			return
		}
		x, err1 := strconv.Atoi(parts[0])
		y, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			c.sendError("Invalid picture")
			return
		}
		b, _ := json.Marshal([]any{0, x, y})
		c.Pic = b
	}
	w.broadcast(c.mapRef, protocol.TagWho, map[string]any{"add": c.who()}, "entry", nil)
}

func cmdCarry(w *World, c *Client, arg string) {
	target := w.findClientByName(arg)
	if target == nil {
		w.failedToFind(c, arg)
		return
	}
	if target == c {
		c.sendError("You can't carry yourself")
		return
	}
	w.offerRequest(c, target, requestCarry, "wants you to carry them")
}

func cmdDropoff(w *World, c *Client, arg string) {
	var target *Client
	if arg == "" && len(c.passengers) == 1 {
		for p := range c.passengers {
			target = p
		}
	} else {
		target = w.findClientByName(arg)
	}
	if target == nil || target.vehicle != c {
		c.sendError("You're not carrying them")
		return
	}
	w.dismount(target)
	target.sendMessage(c.nameAndUsername() + " dropped you off")
	c.sendMessage("You dropped off " + target.nameAndUsername())
}

func cmdCarryWho(w *World, c *Client, arg string) {
	if len(c.passengers) == 0 {
		c.sendMessage("You aren't carrying anyone")
		return
	}
	names := make([]string, 0, len(c.passengers))
	for p := range c.passengers {
		names = append(names, p.nameAndUsername())
	}
	sort.Strings(names)
	c.sendMessage("You are carrying: " + strings.Join(names, ", "))
}

func cmdRideWho(w *World, c *Client, arg string) {
	if c.vehicle == nil {
		c.sendMessage("You aren't riding anyone")
		return
	}
	c.sendMessage("You are riding " + c.vehicle.nameAndUsername())
}

func cmdHopOff(w *World, c *Client, arg string) {
	v := c.vehicle
	if v == nil {
		c.sendError("You aren't riding anyone")
		return
	}
	w.dismount(c)
	c.sendMessage("You hopped off " + v.nameAndUsername())
	v.sendMessage(c.nameAndUsername() + " hopped off")
}

// cmdRideEnd force-dismounts every passenger the actor carries.
func cmdRideEnd(w *World, c *Client, arg string) {
	if len(c.passengers) == 0 {
		c.sendError("You aren't carrying anyone")
		return
	}
	for p := range c.passengers {
		w.dismount(p)
		p.sendMessage(c.nameAndUsername() + " dropped you off")
	}
	c.sendMessage("You dropped off all your passengers")
}

func cmdTeleportAsk(w *World, c *Client, arg string) {
	target := w.findClientByName(arg)
	if target == nil {
		w.failedToFind(c, arg)
		return
	}
	if target == c {
		c.sendError("You're already here")
		return
	}
	w.offerRequest(c, target, requestTeleport, "wants to teleport to you")
}

func cmdTeleportAskHere(w *World, c *Client, arg string) {
	target := w.findClientByName(arg)
	if target == nil {
		w.failedToFind(c, arg)
		return
	}
	if target == c {
		c.sendError("You're already here")
		return
	}
	w.offerRequest(c, target, requestTeleportHere, "wants you to teleport to them")
}

func cmdTeleportAccept(w *World, c *Client, arg string) { w.acceptRequest(c, arg) }
func cmdTeleportDeny(w *World, c *Client, arg string)   { w.declineRequest(c, arg) }
func cmdTeleportCancel(w *World, c *Client, arg string) { w.cancelRequest(c, arg) }

func cmdMapID(w *World, c *Client, arg string) {
	c.sendMessage(fmt.Sprintf("Map ID: %d", c.mapID()))
}

func cmdNewMap(w *World, c *Client, arg string) {
	if c.DB == 0 {
		c.sendError("Guests can't make maps")
		return
	}
	if w.cfg.MaxMaps > 0 {
		n, err := w.store.CountMaps()
		if err != nil {
			w.log.Printf("count maps: %v", err)
			c.sendError("Couldn't make a map")
			return
		}
		if n >= w.cfg.MaxMaps {
			c.sendError("There are too many maps")
			return
		}
	}
	id, err := w.store.NextMapID()
	if err != nil {
		w.log.Printf("next map id: %v", err)
		c.sendError("Couldn't make a map")
		return
	}
	for {
		if _, loaded := w.maps[id]; !loaded {
			break
		}
		id++
	}
	m, err := w.getMap(id)
	if err != nil {
		c.sendError("Couldn't make a map")
		return
	}
	m.Owner = c.DB
	m.dirty = true
	w.saveMap(m)
	if w.switchMap(c, id, nil, true) {
		c.sendMessage(fmt.Sprintf("Welcome to your new map (id %d)", id))
	}
}

func cmdMap(w *World, c *Client, arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		c.sendError("Map ID must be a number")
		return
	}
	if _, loaded := w.maps[id]; !loaded {
		exists, err := w.store.MapExists(id)
		if err != nil {
			w.log.Printf("map exists %d: %v", id, err)
			c.sendError("Couldn't check that map")
			return
		}
		if !exists {
			c.sendMessage(fmt.Sprintf("Map %d doesn't exist", id))
			return
		}
	}
	if w.switchMap(c, id, nil, true) {
		c.sendMessage(fmt.Sprintf("Teleported to map %d", id))
	}
}

func cmdGoBack(w *World, c *Client, arg string) {
	last, ok := c.popHistory()
	if !ok {
		c.sendError("Nowhere to go back to")
		return
	}
	pos := [2]int{int(last[1]), int(last[2])}
	w.switchMap(c, last[0], &pos, false)
}

func cmdSetHome(w *World, c *Client, arg string) {
	home := [3]int64{c.mapID(), int64(c.X), int64(c.Y)}
	c.Home = &home
	c.sendMessage("Home set")
}

func cmdHome(w *World, c *Client, arg string) {
	if c.Home == nil {
		c.sendError("You haven't set a home yet")
		return
	}
	if w.sendHome(c) {
		c.sendMessage("Teleported home")
	}
}

func cmdWhereAre(w *World, c *Client, arg string) {
	type row struct {
		id    int64
		name  string
		users int
	}
	var rows []row
	for id, m := range w.maps {
		if m.Flags&MapFlagPublic == 0 || len(m.users) == 0 {
			continue
		}
		rows = append(rows, row{id, m.Name, len(m.users)})
	}
	if len(rows) == 0 {
		c.sendMessage("Nobody is anywhere public")
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%d: %s (%d)", r.id, r.name, r.users))
	}
	c.sendMessage("Public maps with users: " + strings.Join(lines, ", "))
}

func cmdMyMaps(w *World, c *Client, arg string) {
	if c.DB == 0 {
		c.sendError("Guests don't own maps")
		return
	}
	list, err := w.store.MapsOwnedBy(c.DB)
	if err != nil {
		w.log.Printf("maps owned by %d: %v", c.DB, err)
		c.sendError("Couldn't list your maps")
		return
	}
	if len(list) == 0 {
		c.sendMessage("You don't own any maps")
		return
	}
	lines := make([]string, 0, len(list))
	for _, l := range list {
		lines = append(lines, fmt.Sprintf("%d: %s", l.ID, l.Name))
	}
	c.sendMessage("Your maps: " + strings.Join(lines, ", "))
}

func cmdPublicMaps(w *World, c *Client, arg string) {
	list, err := w.store.PublicMaps()
	if err != nil {
		w.log.Printf("public maps: %v", err)
		c.sendError("Couldn't list public maps")
		return
	}
	if len(list) == 0 {
		c.sendMessage("No public maps")
		return
	}
	lines := make([]string, 0, len(list))
	for _, l := range list {
		lines = append(lines, fmt.Sprintf("%d: %s (%s)", l.ID, l.Name, l.Owner))
	}
	c.sendMessage("Public maps: " + strings.Join(lines, ", "))
}

func cmdIgnore(w *World, c *Client, arg string) {
	name := store.NormalizeUsername(arg)
	if name == "" {
		c.sendError("Ignore who?")
		return
	}
	c.Ignore[name] = true
	c.sendMessage("Now ignoring " + name)
}

func cmdUnignore(w *World, c *Client, arg string) {
	name := store.NormalizeUsername(arg)
	delete(c.Ignore, name)
	c.sendMessage("No longer ignoring " + name)
}

func cmdIgnoreList(w *World, c *Client, arg string) {
	c.sendMessage("Ignore list: " + joinSet(c.Ignore))
}

func cmdWatch(w *World, c *Client, arg string) {
	name := store.NormalizeUsername(arg)
	if name == "" {
		c.sendError("Watch who?")
		return
	}
	c.Watch[name] = true
	c.sendMessage("Now watching " + name)
}

func cmdUnwatch(w *World, c *Client, arg string) {
	name := store.NormalizeUsername(arg)
	delete(c.Watch, name)
	c.sendMessage("No longer watching " + name)
}

func cmdWatchList(w *World, c *Client, arg string) {
	c.sendMessage("Watch list: " + joinSet(c.Watch))
}

func joinSet(set map[string]bool) string {
	if len(set) == 0 {
		return "(empty)"
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func cmdGrant(w *World, c *Client, arg string)  { w.alterPermission(c, arg, "granted", boolPtr(true)) }
func cmdDeny(w *World, c *Client, arg string)   { w.alterPermission(c, arg, "denied", boolPtr(false)) }
func cmdRevoke(w *World, c *Client, arg string) { w.alterPermission(c, arg, "revoked", nil) }

func boolPtr(v bool) *bool { return &v }

// alterPermission handles grant/deny/revoke: "perm username", with the
// special subjects !default (map defaults) and !guest (guest deny).
func (w *World) alterPermission(c *Client, arg, verb string, value *bool) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	permName, subject, ok := strings.Cut(arg, " ")
	if !ok {
		c.sendError("Usage: permission username")
		return
	}
	perm, known := permissionNames[permName]
	if !known {
		c.sendError("Invalid permission: " + permName)
		return
	}
	subject = strings.TrimSpace(subject)

	switch subject {
	case "!default":
		switch {
		case value == nil:
			m.Allow &^= perm
			m.Deny &^= perm
		case *value:
			m.Allow |= perm
			m.Deny &^= perm
		default:
			m.Allow &^= perm
			m.Deny |= perm
		}
	case "!guest":
		// guests only have a deny mask: grant lifts it, deny sets it
		if value != nil && !*value {
			m.GuestDeny |= perm
		} else {
			m.GuestDeny &^= perm
		}
	default:
		uid, found, err := w.store.AccountIDByUsername(subject)
		if err != nil {
			w.log.Printf("permission lookup %q: %v", subject, err)
			c.sendError("Couldn't change that permission")
			return
		}
		if !found {
			c.sendError("Can't find account " + subject)
			return
		}
		if err := w.store.AlterMapPermission(m.ID, uid, perm, value); err != nil {
			w.log.Printf("alter permission map=%d uid=%d: %v", m.ID, uid, err)
			c.sendError("Couldn't change that permission")
			return
		}
	}
	m.dirty = true
	w.broadcast(m, protocol.TagChat, map[string]any{
		"text": fmt.Sprintf("%s %s %s for %s", c.nameAndUsername(), verb, permName, subject),
	}, "", nil)
	w.audit.Write(audit.Entry{
		Kind: "admin", Conn: c.ID, User: c.Username, MapID: m.ID,
		Detail: fmt.Sprintf("%s %s %s", verb, permName, subject),
	})
}

func maskNames(mask int64) string {
	var names []string
	for name, bit := range permissionNames {
		if mask&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func cmdPermList(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	lines := []string{
		fmt.Sprintf("defaults allow=%s deny=%s guest_deny=%s",
			maskNames(m.Allow), maskNames(m.Deny), maskNames(m.GuestDeny)),
	}
	rows, err := w.store.MapPermissionList(m.ID)
	if err != nil {
		w.log.Printf("permission list map=%d: %v", m.ID, err)
		c.sendError("Couldn't list permissions")
		return
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s allow=%s deny=%s",
			r.Username, maskNames(r.Allow), maskNames(r.Deny)))
	}
	c.sendMessage("Permissions: " + strings.Join(lines, "; "))
}

func cmdMapName(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	if arg == "" {
		c.sendError("Name can't be empty")
		return
	}
	m.Name = protocol.EscapeTags(arg)
	m.dirty = true
	c.sendMessage("Map name set to: " + m.Name)
}

func cmdMapDesc(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	m.Desc = protocol.EscapeTags(arg)
	m.dirty = true
	c.sendMessage("Map description set")
}

func cmdMapOwner(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, false) {
		return
	}
	uid, found, err := w.store.AccountIDByUsername(arg)
	if err != nil {
		w.log.Printf("owner lookup %q: %v", arg, err)
		c.sendError("Couldn't change the owner")
		return
	}
	if !found {
		c.sendError("Can't find account " + arg)
		return
	}
	m.Owner = uid
	m.dirty = true
	c.sendMessage("Map owner set to " + store.NormalizeUsername(arg))
}

func onOff(arg string) (bool, bool) {
	switch strings.ToLower(arg) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func cmdMapPrivacy(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	private, ok := onOff(arg)
	if !ok {
		c.sendError("Usage: mapprivacy on/off")
		return
	}
	if private {
		m.Deny |= PermEntry
		c.sendMessage("Map is now private")
	} else {
		m.Deny &^= PermEntry
		c.sendMessage("Map is now open to everyone")
	}
	m.dirty = true
}

func cmdMapProtect(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	protected, ok := onOff(arg)
	if !ok {
		c.sendError("Usage: mapprotect on/off")
		return
	}
	if protected {
		m.Allow &^= PermSandbox
		c.sendMessage("Map is now protected")
	} else {
		m.Allow |= PermSandbox
		c.sendMessage("Map is now a full sandbox")
	}
	m.dirty = true
}

func cmdMapBuild(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	enabled, ok := onOff(arg)
	if !ok {
		c.sendError("Usage: mapbuild on/off")
		return
	}
	if enabled {
		m.Deny &^= PermBuild
		c.sendMessage("Building is now allowed")
	} else {
		m.Deny |= PermBuild
		c.sendMessage("Building is now disabled")
	}
	m.dirty = true
}

func cmdMapSpawn(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	m.StartX, m.StartY = c.X, c.Y
	m.dirty = true
	c.sendMessage("Map start position set")
}

func cmdDefaultFloor(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	if ok, reason := validate.TileOK([]byte(strconv.Quote(arg))); !ok {
		c.sendError(reason)
		return
	}
	m.DefaultTurf = arg
	m.dirty = true
	w.broadcast(m, protocol.TagChat, map[string]any{
		"text": "Map floor changed to " + arg,
	}, "", nil)
}

func cmdSaveMap(w *World, c *Client, arg string) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	w.saveMap(m)
	c.sendMessage("Map saved")
}

func cmdSaveMe(w *World, c *Client, arg string) {
	if c.DB == 0 {
		c.sendError("Guests can't save state; register first")
		return
	}
	w.saveClientAccount(c)
	c.sendMessage("Account saved")
}

func cmdChangePass(w *World, c *Client, arg string) {
	if c.DB == 0 {
		c.sendError("Register first")
		return
	}
	if arg == "" {
		c.sendError("Password can't be empty")
		return
	}
	if err := w.store.ChangePassword(c.DB, arg); err != nil {
		w.log.Printf("changepass uid=%d: %v", c.DB, err)
		c.sendError("Couldn't change your password")
		return
	}
	c.sendMessage("Password changed")
}

func cmdRegister(w *World, c *Client, arg string) {
	if c.DB != 0 {
		c.sendError("You're already registered")
		return
	}
	username, password, ok := strings.Cut(arg, " ")
	if !ok || password == "" {
		c.sendError("Usage: register username password")
		return
	}
	uid, err := w.store.RegisterAccount(username, password)
	if errors.Is(err, store.ErrUsernameTaken) {
		c.sendError("That username is taken")
		return
	}
	if err != nil {
		w.log.Printf("register %q: %v", username, err)
		c.sendError("Couldn't register")
		return
	}
	c.DB = uid
	c.Username = store.NormalizeUsername(username)
	w.saveClientAccount(c)
	c.sendMessage("Registered! You are now " + c.Username)
	w.broadcast(c.mapRef, protocol.TagWho, map[string]any{"add": c.who()}, "entry", nil)
	w.audit.Write(audit.Entry{Kind: "register", Conn: c.ID, User: c.Username})
}

func cmdLogin(w *World, c *Client, arg string) {
	username, password, ok := strings.Cut(arg, " ")
	if !ok {
		c.sendError("Usage: login username password")
		return
	}
	if !w.loginAccount(c, username, password) {
		return
	}
	if rec := c.lastSaved; rec != nil {
		pos := [2]int{rec.X, rec.Y}
		if w.switchMap(c, rec.MapID, &pos, false) {
			return
		}
	}
	w.broadcast(c.mapRef, protocol.TagWho, map[string]any{"add": c.who()}, "entry", nil)
}

// parseListenArg reads "cat1,cat2 map1,map2".
func parseListenArg(arg string) ([]string, []int64, error) {
	catPart, mapPart, ok := strings.Cut(arg, " ")
	if !ok {
		return nil, nil, fmt.Errorf("usage: categories maps")
	}
	cats := strings.Split(catPart, ",")
	for _, cat := range cats {
		if !listenCategories[cat] {
			return nil, nil, fmt.Errorf("invalid category: %s", cat)
		}
	}
	var ids []int64
	for _, part := range strings.Split(strings.TrimSpace(mapPart), ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid map id: %s", part)
		}
		ids = append(ids, id)
	}
	return cats, ids, nil
}

func cmdListen(w *World, c *Client, arg string) {
	cats, ids, err := parseListenArg(arg)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	for _, cat := range cats {
		for _, id := range ids {
			if !w.subscribe(c, cat, id) {
				return
			}
		}
	}
	c.sendMessage(listenList(c))
}

func cmdUnlisten(w *World, c *Client, arg string) {
	cats, ids, err := parseListenArg(arg)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	for _, cat := range cats {
		for _, id := range ids {
			w.unsubscribe(c, cat, id)
		}
	}
	c.sendMessage(listenList(c))
}

func cmdListeners(w *World, c *Client, arg string) {
	c.sendMessage(listenList(c))
}

func (w *World) kickFromMap(c *Client, arg string, ban bool) {
	m := c.mapRef
	if !w.mustBeOwner(m, c, true) {
		return
	}
	target := w.findClientByName(arg)
	if target == nil || target.mapRef != m {
		c.sendError("They're not here")
		return
	}
	if ban {
		if target.DB == 0 {
			c.sendError("Guests can't be banned individually")
			return
		}
		deny := false
		if err := w.store.AlterMapPermission(m.ID, target.DB, PermEntry, &deny); err != nil {
			w.log.Printf("kickban map=%d uid=%d: %v", m.ID, target.DB, err)
			c.sendError("Couldn't ban them")
			return
		}
	}
	target.sendMessage(fmt.Sprintf("You were kicked from map %d by %s", m.ID, c.nameAndUsername()))
	w.sendHome(target)
	c.sendMessage("Kicked " + target.nameAndUsername())
	w.audit.Write(audit.Entry{
		Kind: "admin", Conn: c.ID, User: c.Username, MapID: m.ID,
		Detail: fmt.Sprintf("kick %s ban=%v", target.idString(), ban),
	})
}

func cmdKick(w *World, c *Client, arg string)    { w.kickFromMap(c, arg, false) }
func cmdKickBan(w *World, c *Client, arg string) { w.kickFromMap(c, arg, true) }

func cmdBroadcast(w *World, c *Client, arg string) {
	if !w.mustBeServerAdmin(c) {
		return
	}
	if arg == "" {
		return
	}
	w.broadcastAll("Announcement: " + protocol.EscapeTags(arg))
	w.audit.Write(audit.Entry{Kind: "admin", Conn: c.ID, User: c.Username, Detail: "broadcast " + arg})
}

func cmdKill(w *World, c *Client, arg string) {
	if !w.mustBeServerAdmin(c) {
		return
	}
	target := w.findClientByName(arg)
	if target == nil {
		w.failedToFind(c, arg)
		return
	}
	w.disconnectClient(target, "Disconnected by admin")
	c.sendMessage("Disconnected " + arg)
	w.audit.Write(audit.Entry{Kind: "admin", Conn: c.ID, User: c.Username, Detail: "kill " + arg})
}

func cmdShutdown(w *World, c *Client, arg string) {
	if !w.mustBeServerAdmin(c) {
		return
	}
	if strings.EqualFold(arg, "cancel") {
		w.shutdownTimer = -1
		w.broadcastAll("Server shutdown cancelled")
		return
	}
	seconds, err := strconv.Atoi(arg)
	if err != nil || seconds < 0 {
		c.sendError("Usage: shutdown seconds|cancel")
		return
	}
	w.shutdownTimer = seconds
	w.broadcastAll(fmt.Sprintf("Server will shut down in %d seconds", seconds))
	w.audit.Write(audit.Entry{Kind: "admin", Conn: c.ID, User: c.Username, Detail: "shutdown " + arg})
}
