package store

import (
	"database/sql"
	"errors"
	"time"
)

// Asset types. Tiles and images carry data the dispatcher validates
// before an update is accepted.
const (
	AssetGeneric = 0
	AssetImage   = 2
	AssetTile    = 3
	AssetTileset = 4
	AssetMaxType = 6
)

type AssetRecord struct {
	ID      int64
	Name    string
	Desc    string
	Type    int
	Flags   int64
	Creator int64
	Owner   int64
	Folder  *int64
	Data    string
}

func (s *Store) CreateAsset(owner int64, name string, typ int) (AssetRecord, error) {
	if typ < 0 || typ > AssetMaxType {
		typ = AssetGeneric
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`INSERT INTO assets (creator, owner, name, type, regtime, flags) VALUES (?, ?, ?, ?, ?, 0)`,
		owner, owner, name, typ, now)
	if err != nil {
		return AssetRecord{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AssetRecord{}, err
	}
	return AssetRecord{ID: id, Name: name, Type: typ, Creator: owner, Owner: owner}, nil
}

// CloneAsset copies one of the owner's assets into a new row owned by
// the same account.
func (s *Store) CloneAsset(owner, aid int64) (AssetRecord, error) {
	src, err := s.AssetOwned(owner, aid)
	if err != nil {
		return AssetRecord{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`INSERT INTO assets (name, "desc", type, flags, creator, folder, data, owner, regtime)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.Name, src.Desc, src.Type, src.Flags, src.Creator, src.Folder, src.Data, owner, now)
	if err != nil {
		return AssetRecord{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AssetRecord{}, err
	}
	src.ID = id
	src.Owner = owner
	return src, nil
}

// AssetOwned fetches an asset only if the given account owns it.
func (s *Store) AssetOwned(owner, aid int64) (AssetRecord, error) {
	rec := AssetRecord{ID: aid, Owner: owner}
	var folder sql.NullInt64
	err := s.db.QueryRow(
		`SELECT name, "desc", type, flags, creator, folder, data
		 FROM assets WHERE owner=? AND aid=?`, owner, aid).Scan(
		&rec.Name, &rec.Desc, &rec.Type, &rec.Flags, &rec.Creator, &folder, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if folder.Valid {
		rec.Folder = &folder.Int64
	}
	return rec, nil
}

func (s *Store) UpdateAsset(rec AssetRecord) error {
	var folder any
	if rec.Folder != nil {
		folder = *rec.Folder
	}
	_, err := s.db.Exec(
		`UPDATE assets SET name=?, "desc"=?, flags=?, folder=?, data=? WHERE owner=? AND aid=?`,
		rec.Name, rec.Desc, rec.Flags, folder, rec.Data, rec.Owner, rec.ID)
	return err
}

// DeleteAsset removes the row, first reparenting anything inside it (a
// deleted folder's contents move up to the folder's own parent).
func (s *Store) DeleteAsset(owner, aid int64) error {
	rec, err := s.AssetOwned(owner, aid)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var parent any
	if rec.Folder != nil {
		parent = *rec.Folder
	}
	if _, err := tx.Exec(`UPDATE assets SET folder=? WHERE owner=? AND folder=?`, parent, owner, aid); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM assets WHERE owner=? AND aid=?`, owner, aid); err != nil {
		return err
	}
	return tx.Commit()
}

// AssetData serves the TSD/IMG lookups: data of any asset of the given
// type, regardless of owner.
func (s *Store) AssetData(aid int64, typ int) (string, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM assets WHERE type=? AND aid=?`, typ, aid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return data, err
}
