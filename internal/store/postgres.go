package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an existing handle.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS service_areas (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		geom geometry(Polygon, 4326) NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now())`,
	`CREATE INDEX IF NOT EXISTS service_areas_geom_idx ON service_areas USING GIST (geom)`,
	`CREATE TABLE IF NOT EXISTS optimize_jobs (
		id uuid PRIMARY KEY,
		status text NOT NULL,
		plan_date text,
		request jsonb NOT NULL,
		result jsonb,
		error text,
		callback_url text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now())`,
	`CREATE TABLE IF NOT EXISTS plan_metrics (
		id uuid PRIMARY KEY,
		job_id uuid,
		plan_date text NOT NULL,
		algo text NOT NULL,
		vehicles int NOT NULL DEFAULT 0,
		stops int NOT NULL DEFAULT 0,
		dropped int NOT NULL DEFAULT 0,
		iterations int NOT NULL DEFAULT 0,
		improvements int NOT NULL DEFAULT 0,
		penalized int NOT NULL DEFAULT 0,
		first_solution_cost bigint NOT NULL DEFAULT 0,
		best_cost bigint NOT NULL DEFAULT 0,
		elapsed_ms bigint NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now())`,
	`CREATE INDEX IF NOT EXISTS plan_metrics_date_idx ON plan_metrics (plan_date, algo)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id uuid PRIMARY KEY,
		event_type text NOT NULL,
		url text NOT NULL,
		secret text,
		payload jsonb NOT NULL,
		status text NOT NULL,
		attempts int NOT NULL DEFAULT 0,
		next_attempt_at timestamptz NOT NULL DEFAULT now(),
		last_error text,
		response_code int,
		latency_ms int,
		dedup_key text NOT NULL,
		delivered_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		UNIQUE (event_type, url, dedup_key))`,
	`CREATE TABLE IF NOT EXISTS webhook_dlq (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		delivery_id uuid NOT NULL,
		event_type text NOT NULL,
		url text NOT NULL,
		payload jsonb NOT NULL,
		attempts int NOT NULL,
		last_error text,
		created_at timestamptz NOT NULL DEFAULT now())`,
}

// Migrate creates the tables the store needs if they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type geoJSONPolygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

func (p *Postgres) CreateServiceArea(ctx context.Context, in ServiceAreaInput) (ServiceArea, error) {
	ring, err := in.Validate()
	if err != nil {
		return ServiceArea{}, err
	}
	gj, err := json.Marshal(geoJSONPolygon{Type: "Polygon", Coordinates: [][][2]float64{ring}})
	if err != nil {
		return ServiceArea{}, err
	}
	a := ServiceArea{ID: uuid.New().String(), Name: in.Name, Polygon: ring}
	err = p.db.QueryRowContext(ctx, `INSERT INTO service_areas (id, name, geom) VALUES ($1, $2, ST_SetSRID(ST_GeomFromGeoJSON($3), 4326))
        RETURNING created_at`, a.ID, a.Name, string(gj)).Scan(&a.CreatedAt)
	if err != nil {
		return ServiceArea{}, err
	}
	return a, nil
}

func (p *Postgres) ListServiceAreas(ctx context.Context) ([]ServiceArea, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, name, ST_AsGeoJSON(geom), created_at FROM service_areas ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ServiceArea{}
	for rows.Next() {
		var a ServiceArea
		var gj string
		if err := rows.Scan(&a.ID, &a.Name, &gj, &a.CreatedAt); err != nil {
			return nil, err
		}
		var poly geoJSONPolygon
		if err := json.Unmarshal([]byte(gj), &poly); err != nil {
			return nil, fmt.Errorf("service area %s: %w", a.ID, err)
		}
		if len(poly.Coordinates) > 0 {
			a.Polygon = poly.Coordinates[0]
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ContainsPoint reports whether any service area polygon contains the point.
func (p *Postgres) ContainsPoint(ctx context.Context, lat, lng float64) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM service_areas WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)))`, lng, lat).Scan(&ok)
	return ok, err
}

func (p *Postgres) CreateJob(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	err := p.db.QueryRowContext(ctx, `INSERT INTO optimize_jobs (id, status, plan_date, request, callback_url) VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at, updated_at`, job.ID, job.Status, nullIfEmpty(job.PlanDate), []byte(job.Request), nullIfEmpty(job.CallbackURL)).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

func (p *Postgres) UpdateJob(ctx context.Context, job Job) error {
	res, err := p.db.ExecContext(ctx, `UPDATE optimize_jobs SET status=$2, result=$3, error=$4, updated_at=now() WHERE id=$1`,
		job.ID, job.Status, nullIfEmptyJSON(job.Result), nullIfEmpty(job.Error))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (Job, error) {
	var j Job
	var planDate, errText, callback sql.NullString
	var request, result []byte
	err := p.db.QueryRowContext(ctx, `SELECT id::text, status, plan_date, request, result, error, callback_url, created_at, updated_at FROM optimize_jobs WHERE id::text=$1`, id).
		Scan(&j.ID, &j.Status, &planDate, &request, &result, &errText, &callback, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.PlanDate, j.Error, j.CallbackURL = planDate.String, errText.String, callback.String
	j.Request = request
	if len(result) > 0 {
		j.Result = result
	}
	return j, nil
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, m PlanMetrics) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO plan_metrics (id, job_id, plan_date, algo, vehicles, stops, dropped, iterations, improvements, penalized, first_solution_cost, best_cost, elapsed_ms)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		uuid.New().String(), nullIfEmpty(m.JobID), m.PlanDate, m.Algo, m.Vehicles, m.Stops, m.Dropped,
		m.Iterations, m.Improvements, m.Penalized, m.FirstSolutionCost, m.BestCost, m.ElapsedMs)
	return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, planDate, algo string) ([]PlanMetrics, error) {
	base := `SELECT COALESCE(job_id::text,''), plan_date, algo, vehicles, stops, dropped, iterations, improvements, penalized, first_solution_cost, best_cost, elapsed_ms, created_at FROM plan_metrics WHERE plan_date=$1`
	args := []any{planDate}
	if algo != "" {
		base += ` AND algo=$2`
		args = append(args, algo)
	}
	rows, err := p.db.QueryContext(ctx, base+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PlanMetrics{}
	for rows.Next() {
		var m PlanMetrics
		if err := rows.Scan(&m.JobID, &m.PlanDate, &m.Algo, &m.Vehicles, &m.Stops, &m.Dropped, &m.Iterations, &m.Improvements,
			&m.Penalized, &m.FirstSolutionCost, &m.BestCost, &m.ElapsedMs, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,'pending',0,now(),$6)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs)
	return err
}

// FailWebhookDelivery marks the delivery failed and copies it to the dead-letter table.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (delivery_id, event_type, url, payload, attempts, last_error)
        SELECT id, event_type, url, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError)); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_type, url, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0)
        FROM webhook_deliveries WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfEmptyJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
