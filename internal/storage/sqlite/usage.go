package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Invocation is one authenticated API call.
type Invocation struct {
	Identity   string
	Route      string
	DocumentID string
	StatusCode int
	Latency    time.Duration
	CreatedAt  time.Time
}

// LogInvocation records an API call.
func (s *Store) LogInvocation(ctx context.Context, inv Invocation) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO invocations (identity, route, document_id, status_code, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inv.Identity, inv.Route, inv.DocumentID, inv.StatusCode, inv.Latency.Milliseconds(),
		inv.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log invocation: %w", err)
	}
	return nil
}

// CountInvocations returns how many calls identity has made since the
// given time.
func (s *Store) CountInvocations(ctx context.Context, identity string, since time.Time) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invocations WHERE identity = ? AND created_at >= ?`,
		identity, since.UTC().Format(time.RFC3339Nano),
	).Scan(&n)
	return n, err
}

// Feedback is a user's verdict on one answer.
type Feedback struct {
	Identity   string `json:"-"`
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Accurate   bool   `json:"accurate"`
	Comment    string `json:"comment,omitempty"`
}

// AddFeedback stores a verdict.
func (s *Store) AddFeedback(ctx context.Context, fb Feedback) error {
	if fb.Identity == "" {
		return errors.New("add feedback: missing identity")
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO feedback (identity, document_id, question, answer, accurate, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fb.Identity, fb.DocumentID, fb.Question, fb.Answer, boolToInt(fb.Accurate), fb.Comment,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("add feedback: %w", err)
	}
	return nil
}

// AuthorizeRequest reserves one ask for identity, creating its quota row on
// first sight. It reports false when every remaining ask is spent or
// already reserved. A reservation is settled by DecrementQuota after a
// successful ask or ReleaseQuota otherwise.
func (s *Store) AuthorizeRequest(ctx context.Context, identity string) (bool, error) {
	if _, err := s.ensureQuota(ctx, identity); err != nil {
		return false, err
	}
	var available int
	err := s.write.QueryRowContext(ctx,
		`UPDATE quotas SET reserved = reserved + 1, updated_at = ?
		 WHERE identity = ? AND remaining - reserved > 0
		 RETURNING remaining - reserved`,
		time.Now().UTC().Format(time.RFC3339Nano), identity,
	).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve quota: %w", err)
	}
	return true, nil
}

// RemainingQuota returns identity's asks that are neither spent nor
// reserved, creating its quota row on first sight.
func (s *Store) RemainingQuota(ctx context.Context, identity string) (int, error) {
	return s.ensureQuota(ctx, identity)
}

// DecrementQuota spends one ask and settles one reservation. Neither count
// goes below zero.
func (s *Store) DecrementQuota(ctx context.Context, identity string) (int, error) {
	if _, err := s.ensureQuota(ctx, identity); err != nil {
		return 0, err
	}
	var remaining int
	err := s.write.QueryRowContext(ctx,
		`UPDATE quotas SET remaining = MAX(remaining - 1, 0), reserved = MAX(reserved - 1, 0), updated_at = ?
		 WHERE identity = ? RETURNING remaining`,
		time.Now().UTC().Format(time.RFC3339Nano), identity,
	).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("decrement quota: %w", err)
	}
	return remaining, nil
}

// ReleaseQuota returns a reserved ask unspent.
func (s *Store) ReleaseQuota(ctx context.Context, identity string) error {
	if identity == "" {
		return errors.New("quota: missing identity")
	}
	_, err := s.write.ExecContext(ctx,
		`UPDATE quotas SET reserved = MAX(reserved - 1, 0), updated_at = ? WHERE identity = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), identity,
	)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

func (s *Store) ensureQuota(ctx context.Context, identity string) (int, error) {
	if identity == "" {
		return 0, errors.New("quota: missing identity")
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO quotas (identity, remaining, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO NOTHING`,
		identity, s.defaultQuota, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("create quota: %w", err)
	}
	var remaining int
	err = s.write.QueryRowContext(ctx,
		`SELECT MAX(remaining - reserved, 0) FROM quotas WHERE identity = ?`, identity,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("quota %s: row vanished", identity)
	}
	if err != nil {
		return 0, fmt.Errorf("read quota: %w", err)
	}
	return remaining, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
