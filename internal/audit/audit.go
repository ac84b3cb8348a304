// Package audit records privileged actions performed through live
// components, such as an admin deleting a user.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one recorded privileged action.
type Entry struct {
	ID        int64          `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, actor, action, target string, detail map[string]any) error
}

// PGRecorder writes audit entries to the audit_log table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewPGRecorder creates a PostgreSQL-backed audit recorder.
func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// Record inserts one audit entry.
func (r *PGRecorder) Record(ctx context.Context, actor, action, target string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_log (actor, action, target, detail) VALUES ($1, $2, $3, $4)`,
		actor, action, target, raw,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// MemoryRecorder keeps audit entries in memory for tests and development.
type MemoryRecorder struct {
	mu      sync.Mutex
	nextID  int64
	entries []Entry
}

// NewMemoryRecorder creates an empty in-memory audit recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends one audit entry.
func (r *MemoryRecorder) Record(_ context.Context, actor, action, target string, detail map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.entries = append(r.entries, Entry{
		ID:        r.nextID,
		Actor:     actor,
		Action:    action,
		Target:    target,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Entries returns a copy of all recorded entries in insertion order.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}
