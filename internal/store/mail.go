package store

import "time"

// SendMail inserts one recipient's copy and returns its id so an
// online recipient can be notified immediately.
func (s *Store) SendMail(recipient, sender int64, recipients, subject, contents string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`INSERT INTO mail (uid, sender, recipients, subject, contents, time, flags)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		recipient, sender, recipients, subject, contents, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) MarkMailRead(uid, id int64) error {
	_, err := s.db.Exec(`UPDATE mail SET flags=1 WHERE uid=? AND id=?`, uid, id)
	return err
}

func (s *Store) DeleteMail(uid, id int64) error {
	_, err := s.db.Exec(`DELETE FROM mail WHERE uid=? AND id=?`, uid, id)
	return err
}
