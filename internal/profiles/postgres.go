package profiles

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"atelier/internal/logging"
	"atelier/internal/models"
)

// PostgresDirectory reads profiles from the local profiles table.
type PostgresDirectory struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db, logger: logging.NewPackageLogger("profiles")}
}

type profileRow struct {
	ID        string `db:"id"`
	Name      string `db:"full_name"`
	Role      string `db:"role"`
	AvatarURL string `db:"avatar_url"`
	Location  string `db:"location"`
}

// LookupProfiles implements Directory.
func (d *PostgresDirectory) LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	ids = UniqueIDs(ids)
	out := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []profileRow
	err := d.db.SelectContext(ctx, &rows, `SELECT id, full_name, role, avatar_url, location
        FROM profiles WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "profileDirectory.LookupProfiles")
	}
	for _, row := range rows {
		role, ok := models.ParseRole(row.Role)
		if !ok {
			d.logger.Debug().Str(logging.ID, row.ID).Str("role", row.Role).Msg("unknown profile role")
		}
		out[row.ID] = models.Profile{
			ID:        row.ID,
			Name:      row.Name,
			Role:      role,
			AvatarURL: row.AvatarURL,
			Location:  row.Location,
		}
	}
	return out, nil
}

// Upsert writes a profile row.
func (d *PostgresDirectory) Upsert(ctx context.Context, p models.Profile) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO profiles (id, full_name, role, avatar_url, location)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, role = EXCLUDED.role,
            avatar_url = EXCLUDED.avatar_url, location = EXCLUDED.location`,
		p.ID, p.Name, string(p.Role), p.AvatarURL, p.Location)
	if err != nil {
		return errors.Wrap(err, "profileDirectory.Upsert")
	}
	return nil
}
