package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

// NewPatientRepoPG creates a Postgres-backed patient repository.
func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, digital_identifier, active, first_name, last_name,
	birth_date, phone, email, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient (
			id, digital_identifier, active, first_name, last_name,
			birth_date, phone, email, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.DigitalIdentifier, p.Active, p.FirstName, p.LastName,
		p.BirthDate, p.Phone, p.Email, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateIdentifier
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *patientRepoPG) GetByDigitalIdentifier(ctx context.Context, digitalID string) (*Patient, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE digital_identifier = $1`, digitalID)
	return scanPatient(row)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now()
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient SET
			active = $1, first_name = $2, last_name = $3, birth_date = $4,
			phone = $5, email = $6, updated_at = $7
		WHERE id = $8`,
		p.Active, p.FirstName, p.LastName, p.BirthDate,
		p.Phone, p.Email, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.DigitalIdentifier, &p.Active, &p.FirstName, &p.LastName,
		&p.BirthDate, &p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type practitionerRepoPG struct {
	pool *pgxpool.Pool
}

// NewPractitionerRepoPG creates a Postgres-backed practitioner repository.
func NewPractitionerRepoPG(pool *pgxpool.Pool) PractitionerRepository {
	return &practitionerRepoPG{pool: pool}
}

const practitionerCols = `id, organization_id, active, first_name, last_name,
	license_number, specialty, email,
	can_access_patient_records, can_modify_patient_records,
	can_approve_grants, can_revoke_grants, can_request_grants,
	can_view_audit_logs, created_at, updated_at`

func (r *practitionerRepoPG) Create(ctx context.Context, p *Practitioner) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO practitioner (
			id, organization_id, active, first_name, last_name,
			license_number, specialty, email,
			can_access_patient_records, can_modify_patient_records,
			can_approve_grants, can_revoke_grants, can_request_grants,
			can_view_audit_logs, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.ID, p.OrganizationID, p.Active, p.FirstName, p.LastName,
		p.LicenseNumber, p.Specialty, p.Email,
		p.Permissions.AccessPatientRecords, p.Permissions.ModifyPatientRecords,
		p.Permissions.ApproveGrants, p.Permissions.RevokeGrants,
		p.Permissions.RequestGrants, p.Permissions.ViewAuditLogs,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *practitionerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+practitionerCols+` FROM practitioner WHERE id = $1`, id)
	return scanPractitioner(row)
}

func (r *practitionerRepoPG) Update(ctx context.Context, p *Practitioner) error {
	p.UpdatedAt = time.Now()
	tag, err := r.pool.Exec(ctx, `
		UPDATE practitioner SET
			active = $1, first_name = $2, last_name = $3,
			license_number = $4, specialty = $5, email = $6,
			can_access_patient_records = $7, can_modify_patient_records = $8,
			can_approve_grants = $9, can_revoke_grants = $10,
			can_request_grants = $11, can_view_audit_logs = $12,
			updated_at = $13
		WHERE id = $14`,
		p.Active, p.FirstName, p.LastName,
		p.LicenseNumber, p.Specialty, p.Email,
		p.Permissions.AccessPatientRecords, p.Permissions.ModifyPatientRecords,
		p.Permissions.ApproveGrants, p.Permissions.RevokeGrants,
		p.Permissions.RequestGrants, p.Permissions.ViewAuditLogs,
		p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *practitionerRepoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Practitioner, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM practitioner WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+practitionerCols+` FROM practitioner
		 WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(
		&p.ID, &p.OrganizationID, &p.Active, &p.FirstName, &p.LastName,
		&p.LicenseNumber, &p.Specialty, &p.Email,
		&p.Permissions.AccessPatientRecords, &p.Permissions.ModifyPatientRecords,
		&p.Permissions.ApproveGrants, &p.Permissions.RevokeGrants,
		&p.Permissions.RequestGrants, &p.Permissions.ViewAuditLogs,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type organizationRepoPG struct {
	pool *pgxpool.Pool
}

// NewOrganizationRepoPG creates a Postgres-backed organization repository.
func NewOrganizationRepoPG(pool *pgxpool.Pool) OrganizationRepository {
	return &organizationRepoPG{pool: pool}
}

const organizationCols = `id, name, registration_number, active, verified,
	verified_at, created_at, updated_at`

func (r *organizationRepoPG) Create(ctx context.Context, o *Organization) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO organization (
			id, name, registration_number, active, verified,
			verified_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.Name, o.RegistrationNumber, o.Active, o.Verified,
		o.VerifiedAt, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (r *organizationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+organizationCols+` FROM organization WHERE id = $1`, id)
	return scanOrganization(row)
}

func (r *organizationRepoPG) Update(ctx context.Context, o *Organization) error {
	o.UpdatedAt = time.Now()
	tag, err := r.pool.Exec(ctx, `
		UPDATE organization SET
			name = $1, registration_number = $2, active = $3,
			verified = $4, verified_at = $5, updated_at = $6
		WHERE id = $7`,
		o.Name, o.RegistrationNumber, o.Active,
		o.Verified, o.VerifiedAt, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *organizationRepoPG) List(ctx context.Context, limit, offset int) ([]*Organization, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organization`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+organizationCols+` FROM organization ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func scanOrganization(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(
		&o.ID, &o.Name, &o.RegistrationNumber, &o.Active, &o.Verified,
		&o.VerifiedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// isUniqueViolation reports whether the error is a Postgres unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
