package database

import (
	"database/sql"
)

type PgCallHubRepository struct {
	conn *sql.DB
}

func NewPgCallHubRepository(dsn string) (*PgCallHubRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgCallHubRepository{conn: db}, nil
}

func (db *PgCallHubRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgCallHubRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
