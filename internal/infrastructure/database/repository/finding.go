package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinel-lab/internal/domain/models"
)

const findingColumns = `
	id, identity, detected_at, source, raw_score, risk_score, risk_level, category,
	description, cluster, trigger_event_id, contributions, attributed_features,
	compliance, status, resolved_at, resolved_by, resolution_notes`

const (
	insertTechniqueSQL = `
		INSERT INTO technique_mappings (id, finding_id, technique_id, technique_name, tactic, description, confidence, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertMitigationSQL = `
		INSERT INTO mitigation_actions (id, finding_id, priority, category, action, description, implemented, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectTechniquesSQL = `
		SELECT id, finding_id, technique_id, technique_name, tactic, description, confidence
		FROM technique_mappings
		WHERE finding_id = ANY($1)
		ORDER BY finding_id, position`

	selectMitigationsSQL = `
		SELECT id, finding_id, priority, category, action, description, implemented, implemented_at, implemented_by
		FROM mitigation_actions
		WHERE finding_id = ANY($1)
		ORDER BY finding_id, priority, position`
)

// FindingRepository handles finding, technique mapping and mitigation persistence
type FindingRepository struct {
	pool *pgxpool.Pool
}

// NewFindingRepository creates a new finding repository
func NewFindingRepository(pool *pgxpool.Pool) *FindingRepository {
	return &FindingRepository{pool: pool}
}

// CreateFinding inserts a finding with its mappings and actions in one transaction
func (r *FindingRepository) CreateFinding(ctx context.Context, f *models.Finding) error {
	contributions, err := json.Marshal(f.Contributions)
	if err != nil {
		return fmt.Errorf("failed to encode contributions: %w", err)
	}
	features, err := json.Marshal(f.AttributedFeatures)
	if err != nil {
		return fmt.Errorf("failed to encode attributed features: %w", err)
	}
	compliance := f.Compliance
	if compliance == nil {
		compliance = []string{}
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO findings (`+findingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			f.ID, f.Identity, f.DetectedAt, string(f.Source), f.RawScore, f.RiskScore, string(f.RiskLevel), f.Category,
			f.Description, intToInt4(f.Cluster), uuidToNullUUID(f.TriggerEventID), contributions, features,
			compliance, string(f.Status), timeToTimestamptzPtr(f.ResolvedAt), textOrNull(f.ResolvedBy), textOrNull(f.ResolutionNotes),
		)
		if isForeignKeyViolation(err) {
			return models.ErrInvalidIdentity
		}
		if err != nil {
			return fmt.Errorf("failed to insert finding: %w", err)
		}

		batch := &pgx.Batch{}
		queueDetails(batch, f)
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert finding details: %w", err)
		}
		return nil
	})
}

// queueDetails queues mapping and action inserts; position keeps the slice order on read-back
func queueDetails(batch *pgx.Batch, f *models.Finding) {
	for i, m := range f.Techniques {
		batch.Queue(insertTechniqueSQL,
			m.ID, f.ID, m.TechniqueID, m.TechniqueName, m.Tactic, m.Description, m.Confidence, i,
		)
	}
	for i, a := range f.Mitigations {
		batch.Queue(insertMitigationSQL,
			a.ID, f.ID, a.Priority, string(a.Category), a.Action, a.Description, a.Implemented, i,
		)
	}
}

// GetFinding retrieves a finding with its mappings and actions
func (r *FindingRepository) GetFinding(ctx context.Context, id uuid.UUID) (*models.Finding, error) {
	f, err := scanFinding(r.pool.QueryRow(ctx, `SELECT `+findingColumns+` FROM findings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrFindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}
	if err := r.loadDetails(ctx, []*models.Finding{f}); err != nil {
		return nil, err
	}
	return f, nil
}

// ListFindings lists findings newest first
func (r *FindingRepository) ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Identity != "" {
		args = append(args, filter.Identity)
		conds = append(conds, fmt.Sprintf("identity = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RiskLevel != "" {
		args = append(args, string(filter.RiskLevel))
		conds = append(conds, fmt.Sprintf("risk_level = $%d", len(args)))
	}

	query := `SELECT ` + findingColumns + ` FROM findings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY detected_at DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(filter.Offset, 0))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []*models.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, findings); err != nil {
		return nil, err
	}
	return findings, nil
}

// UpdateFindingStatus persists the status and resolution fields
func (r *FindingRepository) UpdateFindingStatus(ctx context.Context, f *models.Finding) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE findings
		SET status = $2, resolved_at = $3, resolved_by = $4, resolution_notes = $5
		WHERE id = $1`,
		f.ID, string(f.Status), timeToTimestamptzPtr(f.ResolvedAt), textOrNull(f.ResolvedBy), textOrNull(f.ResolutionNotes),
	)
	if err != nil {
		return fmt.Errorf("failed to update finding status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrFindingNotFound
	}
	return nil
}

// MarkMitigationImplemented flags an action as done; the first stamp wins
func (r *FindingRepository) MarkMitigationImplemented(ctx context.Context, id uuid.UUID, by string, at time.Time) (*models.MitigationAction, error) {
	by = strings.TrimSpace(by)
	var actor *string
	if by != "" {
		actor = &by
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE mitigation_actions
		SET implemented = TRUE,
			implemented_at = COALESCE(implemented_at, $2),
			implemented_by = CASE WHEN implemented THEN implemented_by ELSE $3 END
		WHERE id = $1
		RETURNING id, finding_id, priority, category, action, description, implemented, implemented_at, implemented_by`,
		id, at, textOrNull(actor),
	)
	a, err := scanMitigation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMitigationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark mitigation implemented: %w", err)
	}
	return a, nil
}

// FindingStats aggregates finding counts
func (r *FindingRepository) FindingStats(ctx context.Context) (*models.FindingStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, risk_level, category, COUNT(*)
		FROM findings
		GROUP BY status, risk_level, category`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate findings: %w", err)
	}
	defer rows.Close()

	stats := &models.FindingStats{
		ByStatus:    make(map[models.FindingStatus]int),
		ByRiskLevel: make(map[models.RiskLevel]int),
		ByCategory:  make(map[string]int),
	}
	for rows.Next() {
		var (
			status, level, category string
			count                   int
		)
		if err := rows.Scan(&status, &level, &category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan finding stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[models.FindingStatus(status)] += count
		stats.ByRiskLevel[models.RiskLevel(level)] += count
		stats.ByCategory[category] += count
	}
	return stats, rows.Err()
}

// loadDetails attaches technique mappings and mitigation actions to findings
func (r *FindingRepository) loadDetails(ctx context.Context, findings []*models.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(findings))
	byID := make(map[uuid.UUID]*models.Finding, len(findings))
	for i, f := range findings {
		ids[i] = f.ID
		byID[f.ID] = f
	}

	rows, err := r.pool.Query(ctx, selectTechniquesSQL, ids)
	if err != nil {
		return fmt.Errorf("failed to load technique mappings: %w", err)
	}
	for rows.Next() {
		var m models.TechniqueMapping
		if err := rows.Scan(&m.ID, &m.FindingID, &m.TechniqueID, &m.TechniqueName, &m.Tactic, &m.Description, &m.Confidence); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan technique mapping: %w", err)
		}
		byID[m.FindingID].Techniques = append(byID[m.FindingID].Techniques, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, selectMitigationsSQL, ids)
	if err != nil {
		return fmt.Errorf("failed to load mitigation actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanMitigation(rows)
		if err != nil {
			return fmt.Errorf("failed to scan mitigation action: %w", err)
		}
		byID[a.FindingID].Mitigations = append(byID[a.FindingID].Mitigations, *a)
	}
	return rows.Err()
}

func scanFinding(row pgx.Row) (*models.Finding, error) {
	var (
		f                     models.Finding
		source, level, status string
		cluster               pgtype.Int4
		trigger               pgtype.UUID
		contributions         []byte
		features              []byte
		resolvedAt            pgtype.Timestamptz
		resolvedBy, notes     pgtype.Text
	)
	if err := row.Scan(
		&f.ID, &f.Identity, &f.DetectedAt, &source, &f.RawScore, &f.RiskScore, &level, &f.Category,
		&f.Description, &cluster, &trigger, &contributions, &features,
		&f.Compliance, &status, &resolvedAt, &resolvedBy, &notes,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contributions, &f.Contributions); err != nil {
		return nil, fmt.Errorf("failed to decode contributions: %w", err)
	}
	if err := json.Unmarshal(features, &f.AttributedFeatures); err != nil {
		return nil, fmt.Errorf("failed to decode attributed features: %w", err)
	}
	f.DetectedAt = f.DetectedAt.UTC()
	f.Source = models.FindingSource(source)
	f.RiskLevel = models.RiskLevel(level)
	f.Status = models.FindingStatus(status)
	f.Cluster = int4ToIntPtr(cluster)
	f.TriggerEventID = nullUUIDToPtr(trigger)
	f.ResolvedAt = timestamptzToTimePtr(resolvedAt)
	f.ResolvedBy = nullTextToPtr(resolvedBy)
	f.ResolutionNotes = nullTextToPtr(notes)
	return &f, nil
}

func scanMitigation(row pgx.Row) (*models.MitigationAction, error) {
	var (
		a             models.MitigationAction
		category      string
		implementedAt pgtype.Timestamptz
		implementedBy pgtype.Text
	)
	if err := row.Scan(&a.ID, &a.FindingID, &a.Priority, &category, &a.Action, &a.Description,
		&a.Implemented, &implementedAt, &implementedBy); err != nil {
		return nil, err
	}
	a.Category = models.ActionCategory(category)
	a.ImplementedAt = timestamptzToTimePtr(implementedAt)
	a.ImplementedBy = nullTextToPtr(implementedBy)
	return &a, nil
}
