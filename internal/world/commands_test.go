package world

import (
	"encoding/json"
	"strings"
	"testing"
)

// ownerWithMap registers an account and moves it onto a fresh map.
func ownerWithMap(t *testing.T, w *World, username string) (*Client, int64) {
	t.Helper()
	c := connectAs(t, w, username)
	w.handleCommand(c, "newmap")
	drain(c)
	id := c.mapID()
	if id == 0 {
		t.Fatalf("newmap didn't move %s to a new map", username)
	}
	return c, id
}

func TestBuildDeniedThenGranted(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	w.handleCommand(owner, "mapbuild off")
	drain(owner)

	guest := connectAs(t, w, "moss")
	w.handleCommand(guest, "map 1")
	drain(guest)
	if guest.mapID() != mapID {
		t.Fatalf("visitor should reach map %d, got %d", mapID, guest.mapID())
	}

	w.dispatch(guest, []byte(`PUT {"pos":[3,4],"obj":false,"atom":"rock"}`))
	frames := drain(guest)
	if !hasText(frames, "ERR", "Building is disabled") {
		t.Fatalf("denied build should answer ERR, got %v", frames)
	}
	// the authoritative section precedes the error so the client reverts
	if len(framesTagged(frames, "MAP")) == 0 {
		t.Fatalf("denied build should resend the touched section")
	}
	if w.maps[mapID].turf[3][4] != nil {
		t.Fatalf("denied build still mutated the map")
	}

	w.handleCommand(owner, "grant build moss")
	drain(owner)

	w.dispatch(guest, []byte(`PUT {"pos":[3,4],"obj":false,"atom":"rock"}`))
	guestFrames := drain(guest)
	ownerFrames := drain(owner)
	if string(w.maps[mapID].turf[3][4]) != `"rock"` {
		t.Fatalf("granted build should place the turf")
	}
	if len(framesTagged(guestFrames, "MAP")) == 0 {
		t.Fatalf("editor should receive the MAP broadcast")
	}
	if len(framesTagged(ownerFrames, "MAP")) == 0 {
		t.Fatalf("owner should receive the MAP broadcast")
	}
	if !hasText(ownerFrames, "MAP", `[3,4,"rock"]`) {
		t.Fatalf("broadcast section should carry the placed cell, got %v", ownerFrames)
	}
}

func TestDeleteRebroadcastsSectionToRoom(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	w.dispatch(owner, []byte(`PUT {"pos":[3,4],"obj":false,"atom":"rock"}`))
	drain(owner)

	w.dispatch(owner, []byte(`DEL {"pos":[3,4,3,4],"turf":true,"obj":false}`))
	frames := drain(owner)
	if w.maps[mapID].turf[3][4] != nil {
		t.Fatalf("delete should clear the cell")
	}
	if len(framesTagged(frames, "MAP")) == 0 {
		t.Fatalf("occupants should get the refreshed section, got %v", frames)
	}
	if len(framesTagged(frames, "DEL")) != 0 {
		t.Fatalf("the raw edit goes to remote listeners only, got %v", frames)
	}
}

func TestPutOutOfBounds(t *testing.T) {
	w := newTestWorld(t)
	owner, _ := ownerWithMap(t, w, "fern")
	w.dispatch(owner, []byte(`PUT {"pos":[999,4],"obj":false,"atom":"rock"}`))
	if !hasText(drain(owner), "ERR", "Out of bounds") {
		t.Fatalf("out-of-bounds PUT should answer ERR")
	}
}

func TestBulkBuildIsAtomic(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	m := w.maps[mapID]

	// one entry out of bounds: nothing may change
	w.dispatch(owner, []byte(`BLK {"turf":[[0,0,"grass",2,2],[99,99,"grass",5,5]],"obj":[]}`))
	if !hasText(drain(owner), "ERR", "Out of bounds") {
		t.Fatalf("bad bulk entry should answer ERR")
	}
	if m.turf[0][0] != nil {
		t.Fatalf("failed bulk still mutated the map")
	}

	// bad tile in the object layer: same guarantee
	long := strings.Repeat("x", 40)
	w.dispatch(owner, []byte(`BLK {"turf":[[0,0,"grass"]],"obj":[[1,1,["`+long+`"]]]}`))
	drain(owner)
	if m.turf[0][0] != nil {
		t.Fatalf("bulk with invalid object entry must not touch the turf layer")
	}

	w.dispatch(owner, []byte(`BLK {"turf":[[2,3,"sand",3,2]],"obj":[[2,3,["sign"]]]}`))
	drain(owner)
	for x := 2; x < 5; x++ {
		for y := 3; y < 5; y++ {
			if string(m.turf[x][y]) != `"sand"` {
				t.Fatalf("rect fill missing at %d,%d", x, y)
			}
		}
	}
	if string(m.obj[2][3]) != `["sign"]` {
		t.Fatalf("object layer not applied: %s", m.obj[2][3])
	}
}

func TestBulkRequiresPermission(t *testing.T) {
	w := newTestWorld(t)
	_, mapID := ownerWithMap(t, w, "fern")
	visitor := connectAs(t, w, "moss")
	w.handleCommand(visitor, "map 1")
	drain(visitor)

	w.dispatch(visitor, []byte(`BLK {"turf":[[0,0,"grass"]],"obj":[]}`))
	if !hasText(drain(visitor), "ERR", "bulk build") {
		t.Fatalf("bulk build without the bit should be refused")
	}
	if w.maps[mapID].turf[0][0] != nil {
		t.Fatalf("refused bulk mutated the map")
	}
}

func TestRequestRefreshNotDuplicate(t *testing.T) {
	w := newTestWorld(t)
	a := connectAs(t, w, "fern")
	b := connectAs(t, w, "moss")

	w.handleCommand(a, "tpa moss")
	w.handleCommand(a, "tpa moss")
	drain(b)
	if len(b.requests) != 1 {
		t.Fatalf("refresh must not duplicate, got %d requests", len(b.requests))
	}
	if !hasText(drain(a), "MSG", "refreshed") {
		t.Fatalf("second ask should report a refresh")
	}
	if b.requests["fern"].ttl != requestTTL {
		t.Fatalf("refresh should reset the clock, got %d", b.requests["fern"].ttl)
	}
}

func TestRequestExpiryIsSilent(t *testing.T) {
	w := newTestWorld(t)
	a := connectAs(t, w, "fern")
	b := connectAs(t, w, "moss")

	w.handleCommand(a, "tpa moss")
	drain(a)
	drain(b)

	b.requests["fern"].ttl = 1
	w.tickOnce()
	if len(b.requests) != 1 {
		t.Fatalf("request should survive the tick that reaches zero")
	}
	w.tickOnce()
	if len(b.requests) != 0 {
		t.Fatalf("request should expire once the clock runs past zero")
	}
	if frames := drain(a); hasText(frames, "MSG", "request") || hasText(frames, "ERR", "request") {
		t.Fatalf("expiry must be silent, requester got %v", frames)
	}

	w.handleCommand(b, "tpaccept fern")
	if !hasText(drain(b), "ERR", "No pending request") {
		t.Fatalf("accepting an expired request should fail")
	}
}

func TestCancelNotifiesOnlyRequester(t *testing.T) {
	w := newTestWorld(t)
	a := connectAs(t, w, "fern")
	b := connectAs(t, w, "moss")

	w.handleCommand(a, "tpa moss")
	drain(a)
	drain(b)

	w.handleCommand(a, "tpcancel moss")
	if !hasText(drain(a), "MSG", "Request cancelled") {
		t.Fatalf("requester should hear the cancellation")
	}
	if frames := drain(b); len(frames) != 0 {
		t.Fatalf("cancel must not notify the target, got %v", frames)
	}
	if len(b.requests) != 0 {
		t.Fatalf("cancelled request should be removed")
	}

	w.handleCommand(b, "tpaccept fern")
	if !hasText(drain(b), "ERR", "No pending request") {
		t.Fatalf("accepting a cancelled request should fail")
	}
}

func TestCarryFollowsVehicle(t *testing.T) {
	w := newTestWorld(t)
	a := connectAs(t, w, "fern")
	b := connectAs(t, w, "moss")

	// moss asks to be carried; fern accepts, becoming the vehicle
	w.handleCommand(b, "carry fern")
	w.handleCommand(a, "tpaccept moss")
	drain(a)
	drain(b)
	if b.vehicle != a {
		t.Fatalf("accepted carry should mount the requester")
	}

	w.dispatch(a, []byte(`MOV {"from":[5,5],"to":[9,9]}`))
	if b.X != 9 || b.Y != 9 {
		t.Fatalf("passenger should mirror the vehicle, got %d,%d", b.X, b.Y)
	}

	// a map switch drags the passenger along too
	w.handleCommand(a, "newmap")
	drain(a)
	if b.mapID() != a.mapID() || b.X != a.X || b.Y != a.Y {
		t.Fatalf("passenger should follow across maps: %d/%d,%d vs %d/%d,%d",
			b.mapID(), b.X, b.Y, a.mapID(), a.X, a.Y)
	}

	// the relation stays one level deep
	c := connectAs(t, w, "pine")
	w.handleCommand(c, "carry moss")
	w.handleCommand(b, "tpaccept pine")
	if c.vehicle != nil {
		t.Fatalf("a mounted client must not become a vehicle")
	}
	if !hasText(drain(b), "ERR", "already riding") {
		t.Fatalf("stacked carry should be refused")
	}

	w.handleCommand(b, "hopoff")
	if b.vehicle != nil || len(a.passengers) != 0 {
		t.Fatalf("hopoff should unwind the relation")
	}
}

func TestRideEndDropsAllPassengers(t *testing.T) {
	w := newTestWorld(t)
	a := connectAs(t, w, "fern")
	b := connectAs(t, w, "moss")
	c := connectAs(t, w, "pine")

	w.handleCommand(b, "carry fern")
	w.handleCommand(a, "tpaccept moss")
	w.handleCommand(c, "carry fern")
	w.handleCommand(a, "tpaccept pine")
	drain(a)
	if len(a.passengers) != 2 {
		t.Fatalf("expected two passengers, got %d", len(a.passengers))
	}

	w.handleCommand(a, "rideend")
	if len(a.passengers) != 0 {
		t.Fatalf("rideend should drop every passenger")
	}
	if b.vehicle != nil || c.vehicle != nil {
		t.Fatalf("former passengers should have no vehicle")
	}
}

func TestDisconnectUnwindsRideAndRequests(t *testing.T) {
	w := newTestWorld(t)
	a := connectAs(t, w, "fern")
	b := connectAs(t, w, "moss")

	w.handleCommand(b, "carry fern")
	w.handleCommand(a, "tpaccept moss")
	w.handleCommand(b, "tpa fern") // leave a pending request too
	drain(a)
	drain(b)

	w.disconnectClient(b, "")
	if len(a.passengers) != 0 {
		t.Fatalf("vehicle should lose its passenger on disconnect")
	}
	if len(a.requests) != 0 {
		t.Fatalf("pending requests from the leaver should be purged")
	}
}

func TestTellRespectsIgnoreList(t *testing.T) {
	w := newTestWorld(t)
	a := connectAs(t, w, "fern")
	b := connectAs(t, w, "moss")

	w.handleCommand(b, "ignore fern")
	drain(b)
	w.handleCommand(a, "tell moss hello there")
	if !hasText(drain(a), "ERR", "ignoring you") {
		t.Fatalf("sender should learn they're ignored")
	}
	if frames := drain(b); len(framesTagged(frames, "PRI")) != 0 {
		t.Fatalf("ignored sender's message leaked: %v", frames)
	}

	w.handleCommand(b, "unignore fern")
	drain(b)
	w.handleCommand(a, "tell moss hello again")
	if len(framesTagged(drain(b), "PRI")) != 1 {
		t.Fatalf("unignore should let messages through")
	}
	if len(framesTagged(drain(a), "PRI")) != 1 {
		t.Fatalf("sender should get their echo copy")
	}
}

func TestChatEscapesMarkup(t *testing.T) {
	w := newTestWorld(t)
	a := connect(t, w)
	b := connect(t, w)
	drain(b)
	w.dispatch(a, []byte(`MSG {"text":"<b>hi</b>"}`))
	// compare the decoded text: json.Marshal escapes & < > as \uXXXX
	// on the wire, so a raw substring match would miss
	var got struct {
		Text string `json:"text"`
	}
	found := false
	for _, f := range framesTagged(drain(b), "MSG") {
		if json.Unmarshal(f.Body, &got) == nil && got.Text == "&lt;b&gt;hi&lt;/b&gt;" {
			found = true
		}
	}
	if !found {
		t.Fatalf("chat should escape markup, last text %q", got.Text)
	}
}

func TestPrivateMapBlocksEntry(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	w.handleCommand(owner, "mapprivacy on")
	drain(owner)

	visitor := connectAs(t, w, "moss")
	w.handleCommand(visitor, "map 1")
	if !hasText(drain(visitor), "ERR", "private") {
		t.Fatalf("private map should refuse entry")
	}
	if visitor.mapID() == mapID {
		t.Fatalf("visitor entered a private map")
	}

	// owner still gets in
	w.handleCommand(owner, "map 0")
	w.handleCommand(owner, "map 1")
	drain(owner)
	if owner.mapID() != mapID {
		t.Fatalf("owner should bypass the entry deny")
	}
}

func TestKickbanDeniesReentry(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	visitor := connectAs(t, w, "moss")
	w.handleCommand(visitor, "map 1")
	drain(visitor)

	w.handleCommand(owner, "kickban moss")
	drain(owner)
	if visitor.mapID() == mapID {
		t.Fatalf("kicked visitor should be sent home")
	}
	w.handleCommand(visitor, "map 1")
	if !hasText(drain(visitor), "ERR", "private") {
		t.Fatalf("banned visitor should be refused re-entry")
	}
}

func TestGoBackReturnsToPreviousSpot(t *testing.T) {
	w := newTestWorld(t)
	c := connectAs(t, w, "fern")
	w.dispatch(c, []byte(`MOV {"from":[5,5],"to":[12,13]}`))
	w.handleCommand(c, "newmap")
	drain(c)

	w.handleCommand(c, "goback")
	drain(c)
	if c.mapID() != 0 || c.X != 12 || c.Y != 13 {
		t.Fatalf("goback should restore map 0 at 12,13; got %d at %d,%d", c.mapID(), c.X, c.Y)
	}
}

func TestSetHomeAndHome(t *testing.T) {
	w := newTestWorld(t)
	c := connectAs(t, w, "fern")
	w.handleCommand(c, "home")
	if !hasText(drain(c), "ERR", "haven't set a home") {
		t.Fatalf("home without sethome should fail")
	}

	w.dispatch(c, []byte(`MOV {"from":[5,5],"to":[8,2]}`))
	w.handleCommand(c, "sethome")
	w.handleCommand(c, "newmap")
	w.handleCommand(c, "home")
	drain(c)
	if c.mapID() != 0 || c.X != 8 || c.Y != 2 {
		t.Fatalf("home should return to the saved spot, got %d at %d,%d", c.mapID(), c.X, c.Y)
	}
}

func TestNickBroadcastsRosterUpdate(t *testing.T) {
	w := newTestWorld(t)
	a := connect(t, w)
	b := connect(t, w)
	drain(b)
	w.handleCommand(a, "nick Fern the Green")
	if a.Name != "Fern the Green" {
		t.Fatalf("nick should rename, got %q", a.Name)
	}
	frames := drain(b)
	if !hasText(frames, "MSG", "is now known as") {
		t.Fatalf("room should hear the rename")
	}
	if !hasText(frames, "WHO", "Fern the Green") {
		t.Fatalf("roster update should carry the new name")
	}
}
