package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/dizzy/internal/dispatch/provenance"
)

// PutEntity stores an entity unless its id is already present.
func (s *Store) PutEntity(ctx context.Context, entity provenance.Entity) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(entity.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	payload := string(entity.Payload)
	if payload == "" {
		payload = "{}"
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO prov_entities (id, kind, entity_type, payload_json) VALUES (?, ?, ?, ?)`,
		entity.ID, entity.Kind, entity.Type, payload,
	); err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	return nil
}

// PutActivity inserts or replaces an activity and its generated list.
func (s *Store) PutActivity(ctx context.Context, activity provenance.Activity) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(activity.ID) == "" {
		return fmt.Errorf("activity id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var endedAt sql.NullInt64
	if !activity.EndedAt.IsZero() {
		endedAt = sql.NullInt64{Int64: toMillis(activity.EndedAt), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO prov_activities (
    id, run_id, handler, kind, cycle, seq, status, started_at, ended_at, error_message, used_entity_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    ended_at = excluded.ended_at,
    error_message = excluded.error_message,
    used_entity_id = excluded.used_entity_id`,
		activity.ID,
		activity.RunID,
		activity.Handler,
		activity.Kind,
		activity.Cycle,
		int64(activity.Seq),
		string(activity.Status),
		toMillis(activity.StartedAt),
		endedAt,
		activity.Error,
		activity.Used,
	); err != nil {
		return fmt.Errorf("put activity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM prov_generated WHERE activity_id = ?`, activity.ID); err != nil {
		return fmt.Errorf("clear generated: %w", err)
	}
	for i, entityID := range activity.Generated {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO prov_generated (activity_id, position, entity_id) VALUES (?, ?, ?)`,
			activity.ID, i, entityID,
		); err != nil {
			return fmt.Errorf("put generated %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// PutDerivation records a derived-from link once.
func (s *Store) PutDerivation(ctx context.Context, derivation provenance.Derivation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `INSERT OR IGNORE INTO prov_derivations (entity_id, source_id, activity_id, created_order)
VALUES (?, ?, ?, (SELECT COALESCE(MAX(created_order), 0) + 1 FROM prov_derivations))`,
		derivation.EntityID, derivation.SourceID, derivation.ActivityID,
	); err != nil {
		return fmt.Errorf("put derivation: %w", err)
	}
	return nil
}

// GetActivity loads an activity by id.
func (s *Store) GetActivity(ctx context.Context, id string) (provenance.Activity, error) {
	if err := s.ready(ctx); err != nil {
		return provenance.Activity{}, err
	}

	var (
		activity  provenance.Activity
		seq       int64
		status    string
		startedAt int64
		endedAt   sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, run_id, handler, kind, cycle, seq, status, started_at, ended_at, error_message, used_entity_id
FROM prov_activities WHERE id = ?`, id).Scan(
		&activity.ID,
		&activity.RunID,
		&activity.Handler,
		&activity.Kind,
		&activity.Cycle,
		&seq,
		&status,
		&startedAt,
		&endedAt,
		&activity.Error,
		&activity.Used,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return provenance.Activity{}, fmt.Errorf("%w: activity %s", provenance.ErrNotFound, id)
	}
	if err != nil {
		return provenance.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	activity.Seq = uint64(seq)
	activity.Status = provenance.Status(status)
	activity.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		activity.EndedAt = fromMillis(endedAt.Int64)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT entity_id FROM prov_generated WHERE activity_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return provenance.Activity{}, fmt.Errorf("list generated: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entityID string
		if err := rows.Scan(&entityID); err != nil {
			return provenance.Activity{}, fmt.Errorf("scan generated: %w", err)
		}
		activity.Generated = append(activity.Generated, entityID)
	}
	if err := rows.Err(); err != nil {
		return provenance.Activity{}, fmt.Errorf("iterate generated: %w", err)
	}
	return activity, nil
}

// GetEntity loads an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (provenance.Entity, error) {
	if err := s.ready(ctx); err != nil {
		return provenance.Entity{}, err
	}
	var (
		entity  provenance.Entity
		payload string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, kind, entity_type, payload_json FROM prov_entities WHERE id = ?`, id,
	).Scan(&entity.ID, &entity.Kind, &entity.Type, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return provenance.Entity{}, fmt.Errorf("%w: entity %s", provenance.ErrNotFound, id)
	}
	if err != nil {
		return provenance.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	entity.Payload = []byte(payload)
	return entity, nil
}

// DerivationsOf returns the links whose output is entityID, oldest first.
func (s *Store) DerivationsOf(ctx context.Context, entityID string) ([]provenance.Derivation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT entity_id, source_id, activity_id FROM prov_derivations
WHERE entity_id = ? ORDER BY created_order ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list derivations: %w", err)
	}
	defer rows.Close()

	var derivations []provenance.Derivation
	for rows.Next() {
		var d provenance.Derivation
		if err := rows.Scan(&d.EntityID, &d.SourceID, &d.ActivityID); err != nil {
			return nil, fmt.Errorf("scan derivation: %w", err)
		}
		derivations = append(derivations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate derivations: %w", err)
	}
	return derivations, nil
}

var _ provenance.Store = (*Store)(nil)
