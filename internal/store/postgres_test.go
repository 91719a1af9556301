package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresDB(db), mock
}

func TestPostgresContainsPoint(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM service_areas WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)))`)).
		WithArgs(78.4867, 17.385).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := p.ContainsPoint(context.Background(), 17.385, 78.4867)
	if err != nil || !ok {
		t.Fatalf("ContainsPoint = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresCreateServiceAreaClosesRing(t *testing.T) {
	p, mock := newMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO service_areas`).
		WithArgs(sqlmock.AnyArg(), "Hyderabad", `{"type":"Polygon","coordinates":[[[78,17],[79,17],[79,18],[78,17]]]}`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	a, err := p.CreateServiceArea(context.Background(), ServiceAreaInput{Name: "Hyderabad", Polygon: [][2]float64{{78, 17}, {79, 17}, {79, 18}}})
	if err != nil {
		t.Fatalf("CreateServiceArea: %v", err)
	}
	if len(a.Polygon) != 4 || !a.CreatedAt.Equal(created) || a.ID == "" {
		t.Fatalf("area = %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresListServiceAreas(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`SELECT id::text, name, ST_AsGeoJSON\(geom\), created_at FROM service_areas`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "geom", "created_at"}).
			AddRow("a1", "Delhi", `{"type":"Polygon","coordinates":[[[77,28],[78,28],[78,29],[77,28]]]}`, time.Now()))

	areas, err := p.ListServiceAreas(context.Background())
	if err != nil {
		t.Fatalf("ListServiceAreas: %v", err)
	}
	if len(areas) != 1 || areas[0].Name != "Delhi" || len(areas[0].Polygon) != 4 || areas[0].Polygon[1] != [2]float64{78, 28} {
		t.Fatalf("areas = %+v", areas)
	}
}

func TestPostgresGetJobNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`FROM optimize_jobs WHERE id::text=\$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := p.GetJob(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresGetJob(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`FROM optimize_jobs WHERE id::text=\$1`).WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "plan_date", "request", "result", "error", "callback_url", "created_at", "updated_at"}).
			AddRow("j1", JobDone, "2026-10-19", []byte(`{"depot":"x"}`), []byte(`{"routes":[]}`), nil, nil, now, now))

	j, err := p.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != JobDone || j.PlanDate != "2026-10-19" || string(j.Result) != `{"routes":[]}` || j.Error != "" {
		t.Fatalf("job = %+v", j)
	}
}

func TestPostgresUpdateJobNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`UPDATE optimize_jobs SET status=\$2`).
		WithArgs("nope", JobFailed, nil, "boom").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := p.UpdateJob(context.Background(), Job{ID: "nope", Status: JobFailed, Error: "boom"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresFailWebhookDeliveryMovesToDLQ(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_deliveries SET attempts=attempts+1, status='failed'`)).
		WithArgs("d1", "boom", 500, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO webhook_dlq`).WithArgs("d1", "boom").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := p.FailWebhookDelivery(context.Background(), "d1", "boom", 500, 12); err != nil {
		t.Fatalf("FailWebhookDelivery: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresListPlanMetricsFiltersAlgo(t *testing.T) {
	p, mock := newMock(t)
	cols := []string{"job_id", "plan_date", "algo", "vehicles", "stops", "dropped", "iterations", "improvements", "penalized", "first_solution_cost", "best_cost", "elapsed_ms", "created_at"}
	mock.ExpectQuery(`FROM plan_metrics WHERE plan_date=\$1 AND algo=\$2`).
		WithArgs("2026-10-19", "GUIDED_LOCAL_SEARCH").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("j1", "2026-10-19", "GUIDED_LOCAL_SEARCH", 2, 5, 1, 40, 3, 40, 12000, 11000, 250, time.Now()))

	items, err := p.ListPlanMetrics(context.Background(), "2026-10-19", "GUIDED_LOCAL_SEARCH")
	if err != nil {
		t.Fatalf("ListPlanMetrics: %v", err)
	}
	if len(items) != 1 || items[0].BestCost != 11000 || items[0].Stops != 5 || items[0].JobID != "j1" {
		t.Fatalf("items = %+v", items)
	}
}

func TestPostgresMigrate(t *testing.T) {
	p, mock := newMock(t)
	for _, stmt := range schema {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	if err := p.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
