package store

import "context"

// Comprehensiveness score sub-metric weight names. The values live in the
// database so operators can retune scoring without a rebuild.
const (
	WeightTestCount          = "test_count"
	WeightCategoryCoverage   = "category_coverage"
	WeightAntiCheat          = "anti_cheat"
	WeightParameterDiscovery = "parameter_discovery"
	WeightBalancePenalty     = "balance_penalty"
)

// DefaultWeights seed testgen_weights on first open.
var DefaultWeights = map[string]float64{
	WeightTestCount:          0.15,
	WeightCategoryCoverage:   3.0,
	WeightAntiCheat:          2.0,
	WeightParameterDiscovery: 1.0,
	WeightBalancePenalty:     2.0,
}

// Weights returns all score weights.
func (s *Store) Weights(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM testgen_weights`)
	if err != nil {
		return nil, wrapErr(ReasonQuery, "weights", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, wrapErr(ReasonQuery, "weights", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// SetWeight upserts one score weight.
func (s *Store) SetWeight(ctx context.Context, name string, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO testgen_weights (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return wrapErr(ReasonInsert, "set weight", err)
	}
	return nil
}

// seedWeights inserts missing defaults without touching tuned values.
func (s *Store) seedWeights(ctx context.Context) error {
	for name, value := range DefaultWeights {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO testgen_weights (name, value) VALUES (?, ?)`, name, value)
		if err != nil {
			return wrapErr(ReasonMigration, "seed weights", err)
		}
	}
	return nil
}
