package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrUsernameTaken = errors.New("username taken")
	ErrBadCredential = errors.New("bad credential")
)

// NormalizeUsername folds a submitted username into canonical form:
// NFKC normalization, lowercase, and only [a-z0-9_] kept.
func NormalizeUsername(name string) string {
	name = strings.ToLower(norm.NFKC.String(name))
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AccountRecord is the persisted session state for a registered user.
type AccountRecord struct {
	ID       int64
	Username string
	Name     string
	Pic      json.RawMessage
	MapID    int64
	X, Y     int
	Home     *[3]int64 // map, x, y
	Watch    []string
	Ignore   []string
}

func (s *Store) RegisterAccount(username, password string) (int64, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return 0, fmt.Errorf("empty username")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`INSERT INTO users (username, passhash, regtime, name) VALUES (?, ?, ?, ?)`,
		username, string(hash), now, username)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return res.LastInsertId()
}

// VerifyAccount checks credentials and returns the stored session state.
func (s *Store) VerifyAccount(username, password string) (AccountRecord, error) {
	username = NormalizeUsername(username)
	var rec AccountRecord
	var hash, pic, home, watch, ignore string
	err := s.db.QueryRow(
		`SELECT uid, username, passhash, name, pic, mid, x, y, home, watch, ignore
		 FROM users WHERE username=?`, username).Scan(
		&rec.ID, &rec.Username, &hash, &rec.Name, &pic, &rec.MapID, &rec.X, &rec.Y,
		&home, &watch, &ignore)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrBadCredential
	}
	if err != nil {
		return rec, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return rec, ErrBadCredential
	}
	rec.Pic = json.RawMessage(pic)
	if home != "" {
		var h [3]int64
		if err := json.Unmarshal([]byte(home), &h); err == nil {
			rec.Home = &h
		}
	}
	_ = json.Unmarshal([]byte(watch), &rec.Watch)
	_ = json.Unmarshal([]byte(ignore), &rec.Ignore)
	return rec, nil
}

func (s *Store) ChangePassword(uid int64, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE users SET passhash=? WHERE uid=?`, string(hash), uid)
	return err
}

// SaveAccount persists the volatile session state back to the row.
func (s *Store) SaveAccount(rec AccountRecord) error {
	home := ""
	if rec.Home != nil {
		b, err := json.Marshal(rec.Home)
		if err != nil {
			return err
		}
		home = string(b)
	}
	watch, err := json.Marshal(emptyIfNil(rec.Watch))
	if err != nil {
		return err
	}
	ignore, err := json.Marshal(emptyIfNil(rec.Ignore))
	if err != nil {
		return err
	}
	pic := string(rec.Pic)
	if pic == "" {
		pic = "[0,2,25]"
	}
	_, err = s.db.Exec(
		`UPDATE users SET name=?, pic=?, mid=?, x=?, y=?, home=?, watch=?, ignore=?
		 WHERE uid=?`,
		rec.Name, pic, rec.MapID, rec.X, rec.Y, home, string(watch), string(ignore), rec.ID)
	return err
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// AccountIDByUsername resolves a username to its account id; ok=false
// when no such account exists.
func (s *Store) AccountIDByUsername(username string) (int64, bool, error) {
	username = NormalizeUsername(username)
	var uid int64
	err := s.db.QueryRow(`SELECT uid FROM users WHERE username=?`, username).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uid, true, nil
}

func (s *Store) UsernameByID(uid int64) (string, bool, error) {
	var username string
	err := s.db.QueryRow(`SELECT username FROM users WHERE uid=?`, uid).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return username, true, nil
}
