package store

import (
	"errors"
	"path/filepath"
	"testing"

	"gridtown.io/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "town.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMap_SaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LoadMap(7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown map: got %v want ErrNotFound", err)
	}

	rec := MapRecord{
		ID: 7, Name: "Harbor", Desc: "docks", Owner: 3, Flags: 1,
		StartX: 5, StartY: 6, Width: 10, Height: 8,
		DefaultTurf: "grass", Allow: 2, Deny: 1, GuestDeny: 2,
		Tags: map[string]string{"theme": "sea"},
		Data: protocol.MapSection{
			Pos:     [4]int{0, 0, 9, 7},
			Default: "grass",
			Turf:    []protocol.Cell{{X: 3, Y: 4, Value: []byte(`"rock"`)}},
			Obj:     []protocol.Cell{{X: 1, Y: 1, Value: []byte(`["sign"]`)}},
		},
	}
	if err := s.SaveMap(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadMap(7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Harbor" || got.Owner != 3 || got.Width != 10 || got.Height != 8 {
		t.Fatalf("metadata: %+v", got)
	}
	if got.Tags["theme"] != "sea" {
		t.Fatalf("tags: %v", got.Tags)
	}
	if len(got.Data.Turf) != 1 || got.Data.Turf[0].X != 3 || string(got.Data.Turf[0].Value) != `"rock"` {
		t.Fatalf("turf cells: %+v", got.Data.Turf)
	}
	if len(got.Data.Obj) != 1 || string(got.Data.Obj[0].Value) != `["sign"]` {
		t.Fatalf("obj cells: %+v", got.Data.Obj)
	}

	// Saving again must not duplicate the registration row.
	if err := s.SaveMap(rec); err != nil {
		t.Fatalf("second save: %v", err)
	}
	ok, err := s.MapExists(7)
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
}

func TestAlterMapPermission_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	grant, deny := true, false

	if err := s.AlterMapPermission(5, 9, 2, &grant); err != nil {
		t.Fatalf("grant: %v", err)
	}
	allow, denyMask, ok, err := s.MapPermission(5, 9)
	if err != nil || !ok || allow != 2 || denyMask != 0 {
		t.Fatalf("after grant: allow=%d deny=%d ok=%v err=%v", allow, denyMask, ok, err)
	}

	// Deny flips the same bit from allow to deny.
	if err := s.AlterMapPermission(5, 9, 2, &deny); err != nil {
		t.Fatalf("deny: %v", err)
	}
	allow, denyMask, ok, _ = s.MapPermission(5, 9)
	if !ok || allow != 0 || denyMask != 2 {
		t.Fatalf("after deny: allow=%d deny=%d", allow, denyMask)
	}

	// Revoke empties both masks, which deletes the row.
	if err := s.AlterMapPermission(5, 9, 2, nil); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, _, ok, err = s.MapPermission(5, 9)
	if err != nil || ok {
		t.Fatalf("row should be gone: ok=%v err=%v", ok, err)
	}
}

func TestAccounts_RegisterVerify(t *testing.T) {
	s := openTestStore(t)

	uid, err := s.RegisterAccount("Fern", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.RegisterAccount("fern", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate register: %v", err)
	}

	rec, err := s.VerifyAccount("FERN", "hunter2")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rec.ID != uid || rec.Username != "fern" {
		t.Fatalf("record: %+v", rec)
	}
	if _, err := s.VerifyAccount("fern", "wrong"); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("wrong password: %v", err)
	}

	home := [3]int64{5, 3, 4}
	rec.Name = "Fern the Builder"
	rec.MapID = 5
	rec.X, rec.Y = 3, 4
	rec.Home = &home
	rec.Ignore = []string{"pest"}
	if err := s.SaveAccount(rec); err != nil {
		t.Fatalf("save account: %v", err)
	}
	got, err := s.VerifyAccount("fern", "hunter2")
	if err != nil {
		t.Fatalf("re-verify: %v", err)
	}
	if got.Name != "Fern the Builder" || got.MapID != 5 || got.Home == nil || got.Home[0] != 5 {
		t.Fatalf("restored state: %+v", got)
	}
	if len(got.Ignore) != 1 || got.Ignore[0] != "pest" {
		t.Fatalf("ignore list: %v", got.Ignore)
	}

	if err := s.ChangePassword(uid, "newpass"); err != nil {
		t.Fatalf("changepass: %v", err)
	}
	if _, err := s.VerifyAccount("fern", "newpass"); err != nil {
		t.Fatalf("verify new password: %v", err)
	}
}

func TestNormalizeUsername(t *testing.T) {
	if got := NormalizeUsername("Fern_99!"); got != "fern_99" {
		t.Fatalf("got %q", got)
	}
	// NFKC folds fullwidth forms before filtering.
	if got := NormalizeUsername("Ｆｅrn"); got != "fern" {
		t.Fatalf("fullwidth fold: got %q", got)
	}
}

func TestAssets_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	uid, err := s.RegisterAccount("fern", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	created, err := s.CreateAsset(uid, "rock", AssetTile)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created.Data = `"rock"`
	if err := s.UpdateAsset(created); err != nil {
		t.Fatalf("update: %v", err)
	}

	clone, err := s.CloneAsset(uid, created.ID)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if clone.ID == created.ID || clone.Data != `"rock"` || clone.Owner != uid {
		t.Fatalf("clone: %+v", clone)
	}

	if _, err := s.AssetOwned(uid+1, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner must not see asset: %v", err)
	}

	data, err := s.AssetData(created.ID, AssetTile)
	if err != nil || data != `"rock"` {
		t.Fatalf("asset data: %q %v", data, err)
	}
	if _, err := s.AssetData(created.ID, AssetImage); !errors.Is(err, ErrNotFound) {
		t.Fatalf("type mismatch must be not-found: %v", err)
	}

	if err := s.DeleteAsset(uid, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.AssetOwned(uid, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted asset still present: %v", err)
	}
}

func TestAssets_DeleteFolderReparents(t *testing.T) {
	s := openTestStore(t)
	uid, _ := s.RegisterAccount("fern", "pw")

	folder, _ := s.CreateAsset(uid, "box", AssetGeneric)
	item, _ := s.CreateAsset(uid, "rock", AssetTile)
	item.Folder = &folder.ID
	if err := s.UpdateAsset(item); err != nil {
		t.Fatalf("move into folder: %v", err)
	}

	if err := s.DeleteAsset(uid, folder.ID); err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	got, err := s.AssetOwned(uid, item.ID)
	if err != nil {
		t.Fatalf("item survived: %v", err)
	}
	if got.Folder != nil {
		t.Fatalf("item should be reparented to root: %+v", got.Folder)
	}
}

func TestMail_CRUD(t *testing.T) {
	s := openTestStore(t)
	alice, _ := s.RegisterAccount("alice", "pw")
	bob, _ := s.RegisterAccount("bob", "pw")

	id, err := s.SendMail(bob, alice, "2", "hello", "hi bob")
	if err != nil || id == 0 {
		t.Fatalf("send: id=%d err=%v", id, err)
	}
	if err := s.MarkMailRead(bob, id); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := s.DeleteMail(bob, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
