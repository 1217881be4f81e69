package db

import (
	"context"
	"fmt"
	"time"

	"github.com/flycharts/flycharts/internal/session"
)

// TrackPoint is one stored telemetry sample.
type TrackPoint struct {
	ID            int64     `json:"id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Altitude      float64   `json:"altitude"`
	Heading       float64   `json:"heading"`
	Airspeed      float64   `json:"airspeed"`
	GroundSpeed   float64   `json:"ground_speed"`
	VerticalSpeed float64   `json:"vertical_speed"`
	AircraftTitle string    `json:"aircraft_title"`
	ATCID         string    `json:"atc_id"`
	CapturedAt    time.Time `json:"captured_at"`
}

// TrackRepository handles database operations for the flight track history.
type TrackRepository struct {
	db *DB
}

// NewTrackRepository creates a new track repository.
func NewTrackRepository(db *DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Insert stores one telemetry snapshot.
func (r *TrackRepository) Insert(ctx context.Context, snap *session.Snapshot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO flight_track (
			latitude, longitude, altitude_ft, heading_deg,
			airspeed_kts, ground_speed_kts, vertical_speed_fpm,
			aircraft_title, atc_id, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snap.Latitude, snap.Longitude, snap.Altitude, snap.Heading,
		snap.Airspeed, snap.GroundSpeed, snap.VerticalSpeed,
		snap.AircraftTitle, snap.ATCID, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert track point: %w", err)
	}
	return nil
}

// Recent returns the newest track points, most recent first.
func (r *TrackRepository) Recent(ctx context.Context, limit int) ([]TrackPoint, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, altitude_ft, heading_deg,
		        airspeed_kts, ground_speed_kts, vertical_speed_fpm,
		        aircraft_title, atc_id, captured_at
		 FROM flight_track
		 ORDER BY captured_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query track: %w", err)
	}
	defer rows.Close()

	points := make([]TrackPoint, 0, limit)
	for rows.Next() {
		var p TrackPoint
		if err := rows.Scan(
			&p.ID, &p.Latitude, &p.Longitude, &p.Altitude, &p.Heading,
			&p.Airspeed, &p.GroundSpeed, &p.VerticalSpeed,
			&p.AircraftTitle, &p.ATCID, &p.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan track point: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// Prune deletes track points older than maxAge.
// Should be called periodically to prevent unbounded growth.
func (r *TrackRepository) Prune(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM flight_track WHERE captured_at < $1`,
		cutoff,
	); err != nil {
		return fmt.Errorf("failed to prune track: %w", err)
	}
	return nil
}
