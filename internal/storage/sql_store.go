package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/job-tracking/internal/models"
)

//go:embed migrations/001_create_jobs.sql
var createJobsSQL string

// sqlStore holds the queries shared by the Postgres and SQLite backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db       *sql.DB
	numbered bool
}

func (s *sqlStore) bind(q string) string {
	if !s.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate creates the jobs table if it does not exist.
func (s *sqlStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createJobsSQL); err != nil {
		return fmt.Errorf("migrate jobs: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveJob(ctx context.Context, j *models.Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	var dLat, dLng sql.NullFloat64
	if j.DriverLocation != nil {
		dLat = sql.NullFloat64{Float64: j.DriverLocation.Lat, Valid: true}
		dLng = sql.NullFloat64{Float64: j.DriverLocation.Lng, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO jobs(id, status, pickup_lat, pickup_lng, address, driver_id, driver_lat, driver_lng, payment_intent_id, scheduled_at, created_at, updated_at, completed_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, pickup_lat=excluded.pickup_lat, pickup_lng=excluded.pickup_lng,
			address=excluded.address, driver_id=excluded.driver_id, driver_lat=excluded.driver_lat, driver_lng=excluded.driver_lng,
			payment_intent_id=excluded.payment_intent_id, scheduled_at=excluded.scheduled_at, updated_at=excluded.updated_at,
			completed_at=excluded.completed_at`),
		j.ID, string(j.Status), j.Pickup.Lat, j.Pickup.Lng, j.Address, nullString(j.DriverID), dLat, dLng,
		nullString(j.PaymentIntentID), nullTime(j.ScheduledAt), j.CreatedAt, j.UpdatedAt, nullTime(j.CompletedAt))
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT id, status, pickup_lat, pickup_lng, address, driver_id, driver_lat, driver_lng,
		payment_intent_id, scheduled_at, created_at, updated_at, completed_at FROM jobs WHERE id = ?`), id)
	var (
		j                      models.Job
		status                 string
		driverID, paymentID    sql.NullString
		dLat, dLng             sql.NullFloat64
		scheduled, completedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &status, &j.Pickup.Lat, &j.Pickup.Lng, &j.Address, &driverID, &dLat, &dLng,
		&paymentID, &scheduled, &j.CreatedAt, &j.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	st, err := models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	j.Status = st
	j.DriverID = driverID.String
	j.PaymentIntentID = paymentID.String
	if dLat.Valid && dLng.Valid {
		j.DriverLocation = &models.Coord{Lat: dLat.Float64, Lng: dLng.Float64}
	}
	if scheduled.Valid {
		t := scheduled.Time
		j.ScheduledAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *sqlStore) UpdateStatus(ctx context.Context, id string, from, to models.Status, driverID string, at time.Time) error {
	var completed sql.NullTime
	if to == models.StatusCompleted {
		completed = sql.NullTime{Time: at, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.bind(`UPDATE jobs SET status = ?, driver_id = COALESCE(?, driver_id), updated_at = ?,
		completed_at = COALESCE(?, completed_at) WHERE id = ? AND status = ?`),
		string(to), nullString(driverID), at, completed, id, string(from))
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id)
}

func (s *sqlStore) UpdateDriverLocation(ctx context.Context, l models.LocationSample) error {
	res, err := s.db.ExecContext(ctx, s.bind(`UPDATE jobs SET driver_lat = ?, driver_lng = ?, driver_seen_at = ? WHERE id = ?`),
		l.Location.Lat, l.Location.Lng, l.At, l.JobID)
	if err != nil {
		return fmt.Errorf("update driver location %s: %w", l.JobID, err)
	}
	return s.checkAffected(ctx, res, l.JobID)
}

// checkAffected tells a missing job apart from a lost compare-and-swap.
func (s *sqlStore) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	var one int
	err = s.db.QueryRowContext(ctx, s.bind(`SELECT 1 FROM jobs WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error { return s.db.Close() }

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
