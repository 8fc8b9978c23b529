package grant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG creates a Postgres-backed grant repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const grantCols = `id, subject_id, organization_id, practitioner_id, access_scope,
	status, time_window_hours, created_at, expires_at,
	granted_at, denied_at, revoked_at, request_ip, request_user_agent`

func (r *repoPG) Create(ctx context.Context, g *Grant) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	scope, err := json.Marshal(g.Scope)
	if err != nil {
		return fmt.Errorf("marshal access scope: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO authorization_grant (
			id, subject_id, organization_id, practitioner_id, access_scope,
			status, time_window_hours, created_at, expires_at,
			granted_at, denied_at, revoked_at, request_ip, request_user_agent
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		g.ID, g.SubjectID, g.OrganizationID, g.PractitionerID, scope,
		g.Status, g.TimeWindowHours, g.CreatedAt, g.ExpiresAt,
		g.GrantedAt, g.DeniedAt, g.RevokedAt, g.RequestIP, g.RequestUserAgent,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+grantCols+` FROM authorization_grant WHERE id = $1`, id)
	g, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

// UpdateStatus is the compare-and-set write backing every transition. The
// WHERE clause on the old status makes the status column the linearization
// point: a lost race affects zero rows.
func (r *repoPG) UpdateStatus(ctx context.Context, g *Grant, expectedStatus Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE authorization_grant
		SET status = $1, expires_at = $2,
		    granted_at = $3, denied_at = $4, revoked_at = $5
		WHERE id = $6 AND status = $7`,
		g.Status, g.ExpiresAt,
		g.GrantedAt, g.DeniedAt, g.RevokedAt,
		g.ID, expectedStatus,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either the grant is gone or another writer won the race.
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM authorization_grant WHERE id = $1)`,
		g.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (r *repoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) ([]*Grant, int, error) {
	return r.list(ctx, `organization_id`, orgID, status, limit, offset)
}

func (r *repoPG) ListBySubject(ctx context.Context, subjectID uuid.UUID, status Status, limit, offset int) ([]*Grant, int, error) {
	return r.list(ctx, `subject_id`, subjectID, status, limit, offset)
}

func (r *repoPG) list(ctx context.Context, col string, id uuid.UUID, status Status, limit, offset int) ([]*Grant, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_grant WHERE `+col+` = $1 AND status = $2`,
		id, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+grantCols+` FROM authorization_grant
		 WHERE `+col+` = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		id, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	grants, err := scanGrants(rows)
	if err != nil {
		return nil, 0, err
	}
	return grants, total, nil
}

func (r *repoPG) FindBySubjectAndOrganization(ctx context.Context, subjectID, orgID uuid.UUID) ([]*Grant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+grantCols+` FROM authorization_grant
		 WHERE subject_id = $1 AND organization_id = $2
		 ORDER BY created_at DESC`,
		subjectID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	var scope []byte
	err := row.Scan(
		&g.ID, &g.SubjectID, &g.OrganizationID, &g.PractitionerID, &scope,
		&g.Status, &g.TimeWindowHours, &g.CreatedAt, &g.ExpiresAt,
		&g.GrantedAt, &g.DeniedAt, &g.RevokedAt, &g.RequestIP, &g.RequestUserAgent,
	)
	if err != nil {
		return nil, err
	}
	if len(scope) > 0 {
		if err := json.Unmarshal(scope, &g.Scope); err != nil {
			return nil, fmt.Errorf("unmarshal access scope: %w", err)
		}
	}
	return &g, nil
}

func scanGrants(rows pgx.Rows) ([]*Grant, error) {
	var out []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
