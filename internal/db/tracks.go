package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/tracking"
)

var _ tracking.Sink = (*DB)(nil)

// RecordFix stores the latest fix of t. It satisfies tracking.Sink.
func (db *DB) RecordFix(ctx context.Context, session string, t tracking.TrackedTarget) error {
	rssi, err := json.Marshal(t.RSSI)
	if err != nil {
		return err
	}
	p := t.Result.Position
	_, err = db.ExecContext(ctx,
		`INSERT INTO track_fixes (
			session_id, target_id, target_name, signal_type, x, y, z,
			confidence, algorithm, k, rssi_json, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, t.ID, t.Name, string(t.SignalType), p.X, p.Y, p.Z,
		t.Result.Confidence, string(t.Result.Algorithm), t.Result.K, string(rssi), t.LastSeen.UnixNano(),
	)
	return err
}

// Trajectory returns the stored fixes of one target in time order. A
// positive limit keeps only the most recent fixes.
func (db *DB) Trajectory(ctx context.Context, session, targetID string, limit int) ([]tracking.TrajectoryPoint, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT x, y, z, confidence, recorded_at FROM (
			SELECT x, y, z, confidence, recorded_at, fix_id FROM track_fixes
			WHERE session_id = ? AND target_id = ?
			ORDER BY recorded_at DESC, fix_id DESC
			LIMIT ?
		) ORDER BY recorded_at, fix_id`, session, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tracking.TrajectoryPoint
	for rows.Next() {
		var (
			pt geom.Vec3
			tp tracking.TrajectoryPoint
			at int64
		)
		if err := rows.Scan(&pt.X, &pt.Y, &pt.Z, &tp.Confidence, &at); err != nil {
			return nil, err
		}
		tp.Position = pt
		tp.Time = time.Unix(0, at).UTC()
		out = append(out, tp)
	}
	return out, rows.Err()
}

// TrackSession summarizes one tracking run.
type TrackSession struct {
	ID      string    `json:"id"`
	Targets int       `json:"targets"`
	Fixes   int       `json:"fixes"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
}

// Sessions lists recorded tracking sessions, most recent first.
func (db *DB) Sessions(ctx context.Context) ([]TrackSession, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, COUNT(DISTINCT target_id), COUNT(*), MIN(recorded_at), MAX(recorded_at)
		FROM track_fixes
		GROUP BY session_id
		ORDER BY MAX(recorded_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrackSession
	for rows.Next() {
		var (
			s           TrackSession
			first, last int64
		)
		if err := rows.Scan(&s.ID, &s.Targets, &s.Fixes, &first, &last); err != nil {
			return nil, err
		}
		s.First = time.Unix(0, first).UTC()
		s.Last = time.Unix(0, last).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
