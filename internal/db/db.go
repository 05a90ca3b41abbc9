// internal/db/db.go
package db

import (
	"database/sql"
	"log"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and pings it. Both cmd/server and
// cmd/worker go through here so they share pool settings.
func Open(databaseURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)

	log.Println("✅ Connected to database")
	return conn, nil
}
