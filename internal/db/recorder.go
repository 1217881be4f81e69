package db

import (
	"context"
	"log"
	"time"

	"github.com/flycharts/flycharts/internal/session"
)

// Recorder persists published snapshots. It implements session.Publisher so
// the session manager can fan out to the WebSocket hub and the history
// table through the same interface. Insert failures are logged, never
// propagated: losing a history row must not disturb live telemetry.
type Recorder struct {
	repo *TrackRepository
}

// NewRecorder creates a recorder backed by the track repository.
func NewRecorder(repo *TrackRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Publish stores aircraft position events; other events are ignored.
func (rec *Recorder) Publish(event string, payload any) {
	if event != session.EventPositionUpdate {
		return
	}
	snap, ok := payload.(*session.Snapshot)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rec.repo.Insert(ctx, snap); err != nil {
		log.Printf("Error recording track point: %v", err)
	}
}
