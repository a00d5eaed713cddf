package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Archive mirrors the alert log into Postgres for retention and ad-hoc
// queries. It is an optional sink: the JSONL log stays the source of truth
// and archive failures never fail the pipeline.
type Archive struct {
	db *sql.DB
}

// NewArchive connects to Postgres and ensures the schema exists.
func NewArchive(dbURL string) (*Archive, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		generated_at TIMESTAMPTZ NOT NULL,
		source_ip VARCHAR(64) NOT NULL,
		prediction VARCHAR(64) NOT NULL,
		anomaly_score DOUBLE PRECISION NOT NULL,
		severity VARCHAR(8) NOT NULL,
		raw_fhir_id VARCHAR(255),
		predicted_class INT NOT NULL,
		class_probs JSONB,
		model_backed BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_generated_at ON alerts(generated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
	`
	_, err := a.db.Exec(query)
	return err
}

// Insert stores one alert.
func (a *Archive) Insert(ctx context.Context, al Alert) error {
	probs, err := json.Marshal(al.ClassProbs)
	if err != nil {
		return fmt.Errorf("failed to marshal class probabilities: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO alerts (id, generated_at, source_ip, prediction, anomaly_score, severity, raw_fhir_id, predicted_class, class_probs, model_backed)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		al.ID, al.Timestamp, al.SourceIP, al.Prediction, al.AnomalyScore,
		string(al.Severity), al.RawFHIRID, al.PredictedClass, probs, al.ModelBacked,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Recent returns up to max alerts, newest-first.
func (a *Archive) Recent(ctx context.Context, max int) ([]Alert, error) {
	if max <= 0 {
		max = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, generated_at, source_ip, prediction, anomaly_score, severity, COALESCE(raw_fhir_id, ''), predicted_class, class_probs, model_backed
		FROM alerts ORDER BY generated_at DESC LIMIT $1`, max)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var al Alert
		var generatedAt time.Time
		var probs []byte
		if err := rows.Scan(&al.ID, &generatedAt, &al.SourceIP, &al.Prediction, &al.AnomalyScore,
			&al.Severity, &al.RawFHIRID, &al.PredictedClass, &probs, &al.ModelBacked); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		al.Timestamp = generatedAt.UTC().Format(time.RFC3339Nano)
		if len(probs) > 0 {
			_ = json.Unmarshal(probs, &al.ClassProbs)
		}
		alerts = append(alerts, al)
	}
	return alerts, rows.Err()
}

// Close releases the database pool.
func (a *Archive) Close() error { return a.db.Close() }
