package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	masterdata "residence-cloud/internal/masterdata/domain"
)

const defaultApartmentsTable = "apartments"

// DBTX is the subset of *sql.DB and *sql.Tx used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ApartmentRepository is a Postgres implementation for apartments.
type ApartmentRepository struct {
	db    DBTX
	table string
}

// NewApartmentRepository constructs a repository.
func NewApartmentRepository(db DBTX, opts ...ApartmentOption) *ApartmentRepository {
	repo := &ApartmentRepository{db: db, table: defaultApartmentsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ApartmentOption configures the repository.
type ApartmentOption func(*ApartmentRepository)

// WithApartmentTable overrides the default table name.
func WithApartmentTable(table string) ApartmentOption {
	return func(repo *ApartmentRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Get loads an apartment by id.
func (r *ApartmentRepository) Get(ctx context.Context, id string) (*masterdata.Apartment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("apartment repo: nil db")
	}
	if id == "" {
		return nil, errors.New("apartment repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT id, owner_name, phone, email, area_m2, residents, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)
	apt, err := scanApartment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return apt, nil
}

// List returns apartments ordered by id.
func (r *ApartmentRepository) List(ctx context.Context, filter masterdata.ListFilter) ([]masterdata.Apartment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("apartment repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, owner_name, phone, email, area_m2, residents, created_at, updated_at
FROM %s
WHERE ($1 = '' OR owner_name ILIKE '%%' || $1 || '%%')
ORDER BY id`, r.table)
	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(filter.Owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []masterdata.Apartment
	for rows.Next() {
		apt, err := scanApartment(rows)
		if err != nil {
			return nil, err
		}
		// floor is derived from the id, so it is filtered here rather than in SQL
		if filter.Floor > 0 && apt.Floor != filter.Floor {
			continue
		}
		out = append(out, *apt)
	}
	return out, rows.Err()
}

// Save upserts an apartment.
func (r *ApartmentRepository) Save(ctx context.Context, apt *masterdata.Apartment) error {
	if r == nil || r.db == nil {
		return errors.New("apartment repo: nil db")
	}
	if apt == nil {
		return errors.New("apartment repo: nil apartment")
	}
	if err := apt.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	owner_name,
	phone,
	email,
	area_m2,
	residents
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (id)
DO UPDATE SET
	owner_name = EXCLUDED.owner_name,
	phone = EXCLUDED.phone,
	email = EXCLUDED.email,
	area_m2 = EXCLUDED.area_m2,
	residents = EXCLUDED.residents,
	updated_at = NOW()
RETURNING created_at, updated_at`, r.table)

	err := r.db.QueryRowContext(ctx, query,
		apt.ID,
		apt.OwnerName,
		apt.Phone,
		apt.Email,
		apt.AreaM2,
		apt.Residents,
	).Scan(&apt.CreatedAt, &apt.UpdatedAt)
	if err != nil {
		return err
	}
	apt.CreatedAt = apt.CreatedAt.UTC()
	apt.UpdatedAt = apt.UpdatedAt.UTC()
	return nil
}

// Delete removes an apartment and reports whether it existed.
func (r *ApartmentRepository) Delete(ctx context.Context, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("apartment repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanApartment(row rowScanner) (*masterdata.Apartment, error) {
	var (
		apt       masterdata.Apartment
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&apt.ID,
		&apt.OwnerName,
		&apt.Phone,
		&apt.Email,
		&apt.AreaM2,
		&apt.Residents,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	apt.CreatedAt = createdAt.UTC()
	apt.UpdatedAt = updatedAt.UTC()
	apt.Floor = masterdata.FloorOf(apt.ID)
	apt.Block = masterdata.BlockOf(apt.ID)
	return &apt, nil
}
