package auditevent

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG creates a Postgres-backed audit repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const eventCols = `id, action, outcome, actor_id, grant_id, subject_id,
	organization_id, scope, detail, request_ip, user_agent, recorded`

func (r *repoPG) Record(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO grant_audit_event (
			id, action, outcome, actor_id, grant_id, subject_id,
			organization_id, scope, detail, request_ip, user_agent, recorded
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.Action, e.Outcome, e.ActorID, e.GrantID, e.SubjectID,
		e.OrganizationID, e.Scope, e.Detail, e.RequestIP, e.UserAgent, e.Recorded,
	)
	return err
}

func (r *repoPG) ListByGrant(ctx context.Context, grantID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	return r.list(ctx, `grant_id`, grantID, limit, offset)
}

func (r *repoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	return r.list(ctx, `organization_id`, orgID, limit, offset)
}

func (r *repoPG) list(ctx context.Context, col string, id uuid.UUID, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM grant_audit_event WHERE `+col+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+eventCols+` FROM grant_audit_event
		 WHERE `+col+` = $1 ORDER BY recorded DESC LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.Action, &e.Outcome, &e.ActorID, &e.GrantID, &e.SubjectID,
		&e.OrganizationID, &e.Scope, &e.Detail, &e.RequestIP, &e.UserAgent, &e.Recorded,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
