package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

// PGGenerator stores counters in the counters table. Each Next is a single
// upsert, so row locking serializes concurrent increments of the same name.
type PGGenerator struct {
	pool *pgxpool.Pool
}

func NewPGGenerator(pool *pgxpool.Pool) *PGGenerator {
	return &PGGenerator{pool: pool}
}

const nextSQL = `
	INSERT INTO counters (name, seq) VALUES ($1, 1)
	ON CONFLICT (name) DO UPDATE
	SET seq = counters.seq + 1, updated_at = NOW()
	RETURNING seq`

func (g *PGGenerator) Next(ctx context.Context, name string) (uint64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	var seq int64
	if err := db.Conn(ctx, g.pool).QueryRow(ctx, nextSQL, name).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next value for counter %s: %w", name, err)
	}
	return uint64(seq), nil
}
