package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	sqlStore
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{sqlStore{db: db, numbered: true}}, nil
}
