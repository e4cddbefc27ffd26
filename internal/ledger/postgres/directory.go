package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// Directory reads members and categories from their tables.
type Directory struct {
	pool *pgxpool.Pool
}

var (
	_ ledger.MemberDirectory = (*Directory)(nil)
	_ ledger.CategoryCatalog = (*Directory)(nil)
)

// NewDirectory constructs a pool backed directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// ActiveMembers returns the household's active members ordered by id.
func (d *Directory) ActiveMembers(ctx context.Context, householdID uuid.UUID) ([]ledger.Member, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, household_id, display_name, role, income, active
FROM household_members WHERE household_id = $1 AND active ORDER BY id::text`, householdID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []ledger.Member
	for rows.Next() {
		var m ledger.Member
		if err := rows.Scan(&m.ID, &m.HouseholdID, &m.DisplayName, &m.Role, &m.Income, &m.Active); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Category looks up a household category.
func (d *Directory) Category(ctx context.Context, householdID, id uuid.UUID) (ledger.Category, error) {
	var c ledger.Category
	err := d.pool.QueryRow(ctx, `SELECT id, household_id, name, type FROM categories
WHERE household_id = $1 AND id = $2`, householdID, id).Scan(&c.ID, &c.HouseholdID, &c.Name, &c.Type)
	if err != nil {
		return ledger.Category{}, notFound(err)
	}
	return c, nil
}

// Register upserts a member row. The API identity headers feed it so the directory
// mirrors whoever is calling.
func (d *Directory) Register(ctx context.Context, m ledger.Member) error {
	_, err := d.pool.Exec(ctx, `INSERT INTO household_members (id, household_id, display_name, role, income, active)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role,
    income = EXCLUDED.income, active = EXCLUDED.active`,
		m.ID, m.HouseholdID, m.DisplayName, string(m.Role), m.Income, m.Active)
	return translate(err)
}

// PutCategory upserts a category row.
func (d *Directory) PutCategory(ctx context.Context, c ledger.Category) error {
	_, err := d.pool.Exec(ctx, `INSERT INTO categories (id, household_id, name, type) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type`,
		c.ID, c.HouseholdID, c.Name, string(c.Type))
	return translate(err)
}
