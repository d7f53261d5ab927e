package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gridtown.io/internal/protocol"
)

// MapRecord is a persisted map: metadata plus the sparse cell section
// covering the whole grid.
type MapRecord struct {
	ID          int64
	Name        string
	Desc        string
	Owner       int64
	Flags       int64
	StartX      int
	StartY      int
	Width       int
	Height      int
	DefaultTurf string
	Allow       int64
	Deny        int64
	GuestDeny   int64
	Tags        map[string]string
	Data        protocol.MapSection
}

// LoadMap returns ErrNotFound for ids persistence has never seen; the
// caller then treats the map as newly created.
func (s *Store) LoadMap(id int64) (MapRecord, error) {
	rec := MapRecord{ID: id}
	var tags, data string
	err := s.db.QueryRow(
		`SELECT name, "desc", owner, flags, start_x, start_y, width, height,
		        default_turf, allow, deny, guest_deny, tags, data
		 FROM maps WHERE mid=?`, id).Scan(
		&rec.Name, &rec.Desc, &rec.Owner, &rec.Flags, &rec.StartX, &rec.StartY,
		&rec.Width, &rec.Height, &rec.DefaultTurf, &rec.Allow, &rec.Deny,
		&rec.GuestDeny, &tags, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("load map %d: %w", id, err)
	}
	rec.Tags = map[string]string{}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return rec, fmt.Errorf("map %d tags: %w", id, err)
		}
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			return rec, fmt.Errorf("map %d data: %w", id, err)
		}
	}
	return rec, nil
}

// SaveMap upserts the record, inserting the registration row first when
// the id is brand new.
func (s *Store) SaveMap(rec MapRecord) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int64
	err = tx.QueryRow(`SELECT mid FROM maps WHERE mid=?`, rec.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := tx.Exec(`INSERT INTO maps (mid, regtime) VALUES (?, ?)`, rec.ID, now); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	_, err = tx.Exec(
		`UPDATE maps SET name=?, "desc"=?, owner=?, flags=?, start_x=?, start_y=?,
		        width=?, height=?, default_turf=?, allow=?, deny=?, guest_deny=?,
		        tags=?, data=?
		 WHERE mid=?`,
		rec.Name, rec.Desc, rec.Owner, rec.Flags, rec.StartX, rec.StartY,
		rec.Width, rec.Height, rec.DefaultTurf, rec.Allow, rec.Deny,
		rec.GuestDeny, string(tags), string(data), rec.ID)
	if err != nil {
		return fmt.Errorf("save map %d: %w", rec.ID, err)
	}
	return tx.Commit()
}

func (s *Store) MapExists(id int64) (bool, error) {
	var mid int64
	err := s.db.QueryRow(`SELECT mid FROM maps WHERE mid=?`, id).Scan(&mid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

type MapListing struct {
	ID    int64
	Name  string
	Owner string
}

func (s *Store) MapsOwnedBy(uid int64) ([]MapListing, error) {
	rows, err := s.db.Query(`SELECT mid, name FROM maps WHERE owner=? ORDER BY mid`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MapListing
	for rows.Next() {
		var l MapListing
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) PublicMaps() ([]MapListing, error) {
	rows, err := s.db.Query(
		`SELECT m.mid, m.name, u.username
		 FROM maps m JOIN users u ON m.owner=u.uid
		 WHERE (m.flags & 1) != 0 ORDER BY m.mid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MapListing
	for rows.Next() {
		var l MapListing
		if err := rows.Scan(&l.ID, &l.Name, &l.Owner); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// NextMapID picks the first id above every registered map.
func (s *Store) NextMapID() (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(mid) FROM maps`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

func (s *Store) CountMaps() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM maps`).Scan(&n)
	return n, err
}

// MapPermission reads the per-user override row. ok=false means no
// override exists and map defaults apply.
func (s *Store) MapPermission(mapID, uid int64) (allow, deny int64, ok bool, err error) {
	err = s.db.QueryRow(`SELECT allow, deny FROM map_permissions WHERE mid=? AND uid=?`,
		mapID, uid).Scan(&allow, &deny)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return allow, deny, true, nil
}

// AlterMapPermission applies a grant (value true), deny (value false)
// or revoke (value nil) of one permission bit to the override row,
// creating or deleting the row as the masks demand.
func (s *Store) AlterMapPermission(mapID, uid, perm int64, value *bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var allow, deny int64
	existed := true
	err = tx.QueryRow(`SELECT allow, deny FROM map_permissions WHERE mid=? AND uid=?`,
		mapID, uid).Scan(&allow, &deny)
	if errors.Is(err, sql.ErrNoRows) {
		existed = false
	} else if err != nil {
		return err
	}

	switch {
	case value == nil:
		allow &^= perm
		deny &^= perm
	case *value:
		allow |= perm
		deny &^= perm
	default:
		allow &^= perm
		deny |= perm
	}

	if allow|deny == 0 {
		if existed {
			if _, err := tx.Exec(`DELETE FROM map_permissions WHERE mid=? AND uid=?`, mapID, uid); err != nil {
				return err
			}
		}
		return tx.Commit()
	}
	if existed {
		_, err = tx.Exec(`UPDATE map_permissions SET allow=?, deny=? WHERE mid=? AND uid=?`,
			allow, deny, mapID, uid)
	} else {
		_, err = tx.Exec(`INSERT INTO map_permissions (mid, uid, allow, deny) VALUES (?, ?, ?, ?)`,
			mapID, uid, allow, deny)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

type PermissionRow struct {
	Username string
	Allow    int64
	Deny     int64
}

func (s *Store) MapPermissionList(mapID int64) ([]PermissionRow, error) {
	rows, err := s.db.Query(
		`SELECT u.username, mp.allow, mp.deny
		 FROM map_permissions mp JOIN users u ON mp.uid=u.uid
		 WHERE mp.mid=? ORDER BY u.username`, mapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionRow
	for rows.Next() {
		var r PermissionRow
		if err := rows.Scan(&r.Username, &r.Allow, &r.Deny); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
