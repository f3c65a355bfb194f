package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinel-lab/internal/domain/models"
)

// EventRepository handles identity and event persistence
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new event repository
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// UpsertIdentity inserts or updates an identity
func (r *EventRepository) UpsertIdentity(ctx context.Context, i *models.Identity) error {
	query := `
		INSERT INTO identities (id, display_name, department, baseline_location)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			department = EXCLUDED.department,
			baseline_location = EXCLUDED.baseline_location
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		i.ID, i.DisplayName, i.Department, textOrNull(i.BaselineLocation),
	).Scan(&i.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// Identity retrieves an identity by id
func (r *EventRepository) Identity(ctx context.Context, id string) (*models.Identity, error) {
	query := `
		SELECT id, display_name, department, baseline_location, created_at
		FROM identities
		WHERE id = $1`

	i, err := scanIdentity(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrInvalidIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return i, nil
}

// ListIdentities returns all identities ordered by id
func (r *EventRepository) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	query := `
		SELECT id, display_name, department, baseline_location, created_at
		FROM identities
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// BaselineLocation returns the identity's usual location
func (r *EventRepository) BaselineLocation(ctx context.Context, id string) (*string, error) {
	var loc pgtype.Text
	err := r.pool.QueryRow(ctx, `SELECT baseline_location FROM identities WHERE id = $1`, id).Scan(&loc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrInvalidIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline location: %w", err)
	}
	return nullTextToPtr(loc), nil
}

// RecordEvents inserts events in one batch
func (r *EventRepository) RecordEvents(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	query := `
		INSERT INTO events (
			id, identity, event_type, timestamp, location, source_ip, port,
			file_path, action, success, cpu_usage, memory_usage, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.ID, e.Identity, string(e.Type), e.Timestamp,
			textOrNull(e.Location), textOrNull(e.SourceIP), intToInt4(e.Port),
			textOrNull(e.FilePath), textOrNull(e.Action), e.Success,
			floatToFloat8(e.CPUUsage), floatToFloat8(e.MemoryUsage), e.Details,
		)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if isForeignKeyViolation(err) {
		return models.ErrInvalidIdentity
	}
	if err != nil {
		return fmt.Errorf("failed to record events: %w", err)
	}
	return nil
}

// FetchEvents returns an identity's events at or after since, oldest first
func (r *EventRepository) FetchEvents(ctx context.Context, identity string, since time.Time) ([]models.Event, error) {
	query := `
		SELECT id, identity, event_type, timestamp, location, source_ip, port,
			   file_path, action, success, cpu_usage, memory_usage, details
		FROM events
		WHERE identity = $1 AND timestamp >= $2
		ORDER BY timestamp`

	rows, err := r.pool.Query(ctx, query, identity, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			e                                    models.Event
			eventType                            string
			location, sourceIP, filePath, action pgtype.Text
			port                                 pgtype.Int4
			cpu, mem                             pgtype.Float8
		)
		if err := rows.Scan(
			&e.ID, &e.Identity, &eventType, &e.Timestamp, &location, &sourceIP, &port,
			&filePath, &action, &e.Success, &cpu, &mem, &e.Details,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = models.EventType(eventType)
		e.Timestamp = e.Timestamp.UTC()
		e.Location = nullTextToPtr(location)
		e.SourceIP = nullTextToPtr(sourceIP)
		e.Port = int4ToIntPtr(port)
		e.FilePath = nullTextToPtr(filePath)
		e.Action = nullTextToPtr(action)
		e.CPUUsage = float8ToFloatPtr(cpu)
		e.MemoryUsage = float8ToFloatPtr(mem)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var (
		i   models.Identity
		loc pgtype.Text
	)
	if err := row.Scan(&i.ID, &i.DisplayName, &i.Department, &loc, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.BaselineLocation = nullTextToPtr(loc)
	return &i, nil
}
