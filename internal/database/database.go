package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite3"
)

type DBConn struct {
	*queries
	conn   *sqlx.DB
	driver string
}

func NewDatabaseConnection(driver, dsn string) (*DBConn, error) {
	if driver != DriverPostgres && driver != DriverSqlite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSqlite {
		// sqlite allows a single writer; one connection also serializes the
		// per-user transactions
		db.SetMaxOpenConns(1)
	}

	return &DBConn{
		queries: &queries{ext: db},
		conn:    db,
		driver:  driver,
	}, nil
}

func (db *DBConn) Driver() string {
	return db.driver
}

func (db *DBConn) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DBConn) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
