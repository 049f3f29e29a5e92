package store

import "time"

// SaveSnapshot stores an opaque blob under name, replacing any previous one.
func (db *DB) SaveSnapshot(name, version string, data []byte) error {
	_, err := db.Exec(`
		INSERT INTO snapshots (name, version, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version, data = excluded.data, updated_at = excluded.updated_at`,
		name, version, data, time.Now().UnixMilli())
	return err
}

// LoadSnapshot returns the blob stored under name. ok is false when there is
// none.
func (db *DB) LoadSnapshot(name string) (version string, data []byte, ok bool, err error) {
	err = db.QueryRow(`SELECT version, data FROM snapshots WHERE name = ?`, name).Scan(&version, &data)
	if err != nil {
		return "", nil, false, noRowsNil(err)
	}
	return version, data, true, nil
}

// DeleteSnapshot removes the blob stored under name.
func (db *DB) DeleteSnapshot(name string) error {
	_, err := db.Exec(`DELETE FROM snapshots WHERE name = ?`, name)
	return err
}
