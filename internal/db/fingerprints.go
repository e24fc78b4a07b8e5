package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

// ErrNotFound is returned when a named fingerprint set does not exist.
var ErrNotFound = errors.New("not found")

// FingerprintSet describes one stored database.
type FingerprintSet struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Size     int                  `json:"size"`
	APCount  int                  `json:"ap_count"`
	Metadata fingerprint.Metadata `json:"metadata"`
}

// SaveFingerprints stores fdb under name, replacing any set of that name,
// and returns the set id. The build id from the metadata is reused when
// present.
func (db *DB) SaveFingerprints(ctx context.Context, name string, fdb *fingerprint.Database) (string, error) {
	if name == "" {
		return "", fmt.Errorf("fingerprint set name is required")
	}
	meta := fdb.Metadata()
	id := meta.BuildID
	if id == "" {
		id = uuid.NewString()
	}
	created := meta.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprint_sets WHERE name = ? OR set_id = ?`, name, id); err != nil {
		return "", fmt.Errorf("replace set %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fingerprint_sets (set_id, name, created_at, tracer_mode, spacing_m, frequency_hz, tx_power_dbm)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, created.UnixNano(), meta.TracerMode, meta.SpacingM, meta.FrequencyHz, meta.TxPowerDBm,
	); err != nil {
		return "", fmt.Errorf("insert set %s: %w", name, err)
	}

	for i, ap := range fdb.AccessPoints() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fingerprint_access_points (set_id, ap_index, name, x, y, z) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, ap.Name, ap.Position.X, ap.Position.Y, ap.Position.Z,
		); err != nil {
			return "", fmt.Errorf("insert access point %s: %w", ap.Name, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fingerprints (set_id, x, y, z, rssi_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, fp := range fdb.Fingerprints() {
		rssi, err := json.Marshal(fp.RSSI)
		if err != nil {
			return "", err
		}
		if _, err := stmt.ExecContext(ctx, id, fp.Position.X, fp.Position.Y, fp.Position.Z, string(rssi)); err != nil {
			return "", fmt.Errorf("insert fingerprint at %v: %w", fp.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// LoadFingerprints rebuilds the named set in its original insertion order.
func (db *DB) LoadFingerprints(ctx context.Context, name string) (*fingerprint.Database, error) {
	var (
		id      string
		created int64
		meta    fingerprint.Metadata
	)
	err := db.QueryRowContext(ctx,
		`SELECT set_id, created_at, tracer_mode, spacing_m, frequency_hz, tx_power_dbm
		 FROM fingerprint_sets WHERE name = ?`, name,
	).Scan(&id, &created, &meta.TracerMode, &meta.SpacingM, &meta.FrequencyHz, &meta.TxPowerDBm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fingerprint set %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	meta.BuildID = id
	meta.CreatedAt = time.Unix(0, created).UTC()

	aps, err := db.accessPoints(ctx, id)
	if err != nil {
		return nil, err
	}
	fdb, err := fingerprint.NewDatabase(aps)
	if err != nil {
		return nil, fmt.Errorf("fingerprint set %q: %w", name, err)
	}
	fdb.SetMetadata(meta)

	rows, err := db.QueryContext(ctx, `SELECT x, y, z, rssi_json FROM fingerprints WHERE set_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p   geom.Vec3
			raw string
			v   []float64
		)
		if err := rows.Scan(&p.X, &p.Y, &p.Z, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode rssi at %v: %w", p, err)
		}
		if err := fdb.Add(p, v); err != nil {
			return nil, err
		}
	}
	return fdb, rows.Err()
}

func (db *DB) accessPoints(ctx context.Context, id string) ([]fingerprint.AccessPoint, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, x, y, z FROM fingerprint_access_points WHERE set_id = ? ORDER BY ap_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var aps []fingerprint.AccessPoint
	for rows.Next() {
		var ap fingerprint.AccessPoint
		if err := rows.Scan(&ap.Name, &ap.Position.X, &ap.Position.Y, &ap.Position.Z); err != nil {
			return nil, err
		}
		aps = append(aps, ap)
	}
	return aps, rows.Err()
}

// ListFingerprints returns every stored set, newest first.
func (db *DB) ListFingerprints(ctx context.Context) ([]FingerprintSet, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.set_id, s.name, s.created_at, s.tracer_mode, s.spacing_m, s.frequency_hz, s.tx_power_dbm,
		       (SELECT COUNT(*) FROM fingerprints f WHERE f.set_id = s.set_id),
		       (SELECT COUNT(*) FROM fingerprint_access_points a WHERE a.set_id = s.set_id)
		FROM fingerprint_sets s
		ORDER BY s.created_at DESC, s.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FingerprintSet
	for rows.Next() {
		var (
			s       FingerprintSet
			created int64
		)
		if err := rows.Scan(&s.ID, &s.Name, &created, &s.Metadata.TracerMode, &s.Metadata.SpacingM,
			&s.Metadata.FrequencyHz, &s.Metadata.TxPowerDBm, &s.Size, &s.APCount); err != nil {
			return nil, err
		}
		s.Metadata.BuildID = s.ID
		s.Metadata.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteFingerprints removes the named set.
func (db *DB) DeleteFingerprints(ctx context.Context, name string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM fingerprint_sets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fingerprint set %q: %w", name, ErrNotFound)
	}
	return nil
}
