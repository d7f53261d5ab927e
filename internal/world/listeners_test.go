package world

import (
	"testing"
)

// botOnDefaultMap registers a bot account and grants it map_bot on the
// given map without moving it there.
func botOnDefaultMap(t *testing.T, w *World, mapID int64) *Client {
	t.Helper()
	bot := connectAs(t, w, "bot")
	allow := true
	if err := w.store.AlterMapPermission(mapID, bot.DB, PermMapBot, &allow); err != nil {
		t.Fatalf("grant map_bot: %v", err)
	}
	return bot
}

func TestListenRequiresMapBotPermission(t *testing.T) {
	w := newTestWorld(t)
	_, mapID := ownerWithMap(t, w, "fern")
	stranger := connectAs(t, w, "moss")

	w.handleCommand(stranger, "listen build 1")
	if !hasText(drain(stranger), "ERR", "map_bot") {
		t.Fatalf("listen without map_bot should be refused")
	}
	if len(w.listeners["build"][mapID]) != 0 {
		t.Fatalf("refused listener was registered anyway")
	}
}

func TestBuildListenGetsSnapshotAndEdits(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	bot := botOnDefaultMap(t, w, mapID)

	w.handleCommand(bot, "listen build 1")
	frames := drain(bot)
	if !hasText(frames, "MAI", `"remote_map":1`) {
		t.Fatalf("build listen should snapshot MAI with remote_map, got %v", frames)
	}
	if !hasText(frames, "MAP", `"remote_map":1`) {
		t.Fatalf("build listen should snapshot the full MAP with remote_map")
	}

	// listeners get the raw edit with attribution; the occupant-facing
	// MAP section stays on the map
	w.dispatch(owner, []byte(`PUT {"pos":[3,4],"obj":false,"atom":"rock"}`))
	botFrames := drain(bot)
	if !hasText(botFrames, "PUT", `"remote_map":1`) {
		t.Fatalf("edit should be forwarded with remote_map, got %v", botFrames)
	}
	if !hasText(botFrames, "PUT", `"username":"fern"`) {
		t.Fatalf("forwarded edit should carry the editor's username")
	}
	if len(framesTagged(botFrames, "MAP")) != 0 {
		t.Fatalf("room-facing section must not be duplicated to listeners, got %v", botFrames)
	}

	w.dispatch(owner, []byte(`DEL {"pos":[3,4,3,4],"turf":true,"obj":false}`))
	botFrames = drain(bot)
	if !hasText(botFrames, "DEL", `"remote_map":1`) || !hasText(botFrames, "DEL", `"username":"fern"`) {
		t.Fatalf("delete should be forwarded with remote_map and username, got %v", botFrames)
	}
}

func TestEntryListenGetsRosterSnapshot(t *testing.T) {
	w := newTestWorld(t)
	_, mapID := ownerWithMap(t, w, "fern")
	bot := botOnDefaultMap(t, w, mapID)

	w.handleCommand(bot, "listen entry 1")
	if !hasText(drain(bot), "WHO", `"remote_map":1`) {
		t.Fatalf("entry listen should snapshot the roster")
	}

	visitor := connectAs(t, w, "moss")
	w.handleCommand(visitor, "map 1")
	if !hasText(drain(bot), "WHO", `"remote_map":1`) {
		t.Fatalf("entry events should be forwarded to the listener")
	}
}

func TestChatListenForwardsWithRemoteMap(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	bot := botOnDefaultMap(t, w, mapID)
	w.handleCommand(bot, "listen chat 1")
	drain(bot)

	w.dispatch(owner, []byte(`MSG {"text":"hello"}`))
	if !hasText(drain(bot), "MSG", `"remote_map":1`) {
		t.Fatalf("chat should be forwarded with remote_map")
	}
}

func TestOnMapSubscriberNotSentTwice(t *testing.T) {
	w := newTestWorld(t)
	owner, mapID := ownerWithMap(t, w, "fern")
	bot := botOnDefaultMap(t, w, mapID)
	w.handleCommand(bot, "listen chat 1")
	w.handleCommand(bot, "map 1")
	drain(bot)

	w.dispatch(owner, []byte(`MSG {"text":"hi"}`))
	frames := framesTagged(drain(bot), "MSG")
	if len(frames) != 1 {
		t.Fatalf("on-map subscriber should get exactly one copy, got %d", len(frames))
	}
	if hasText(frames, "MSG", "remote_map") {
		t.Fatalf("the local copy must not carry remote_map")
	}
}

func TestUnlistenAndDisconnectCleanup(t *testing.T) {
	w := newTestWorld(t)
	_, mapID := ownerWithMap(t, w, "fern")
	bot := botOnDefaultMap(t, w, mapID)

	w.handleCommand(bot, "listen build,chat 1")
	drain(bot)
	if len(bot.listening) != 2 {
		t.Fatalf("expected two subscriptions, got %d", len(bot.listening))
	}

	w.handleCommand(bot, "unlisten chat 1")
	drain(bot)
	if len(bot.listening) != 1 || len(w.listeners["chat"][mapID]) != 0 {
		t.Fatalf("unlisten should drop the chat subscription")
	}

	w.disconnectClient(bot, "")
	if len(w.listeners["build"][mapID]) != 0 {
		t.Fatalf("disconnect should clean up remaining subscriptions")
	}
}
