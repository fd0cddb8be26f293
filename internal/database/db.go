// Package database opens the MySQL pool and applies the embedded schema.
package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kiennguyen/apptravel/internal/config"
)

// DSN builds the driver connection string. Times are parsed into UTC
// time.Time values and RowsAffected counts matched rows, which the
// repositories rely on to tell "not found" from "unchanged".
func DSN(c config.DBConfig) string {
	m := mysql.NewConfig()
	m.User = c.User
	m.Passwd = c.Pass
	m.Net = "tcp"
	m.Addr = net.JoinHostPort(c.Host, c.Port)
	m.DBName = c.Name
	m.ParseTime = true
	m.Loc = time.UTC
	m.ClientFoundRows = true
	m.Params = map[string]string{"charset": "utf8mb4"}
	return m.FormatDSN()
}

// Open connects to MySQL, sizes the pool and pings within a few seconds.
func Open(ctx context.Context, c config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(c))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MaxOpen)
	db.SetMaxIdleConns(c.MaxIdle)
	db.SetConnMaxLifetime(c.MaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
