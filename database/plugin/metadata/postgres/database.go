// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/blinklabs-io/prism/database/plugin/metadata/internal/gormutil"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const pluginName = "postgres"

var ErrMissingDSN = errors.New("postgres metadata plugin requires a dsn")

// MetadataStorePostgres stores indexer state in Postgres
type MetadataStorePostgres struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger
	dsn          string
	pool         gormutil.Pool
}

// NewWithOptions creates a new database with options
func NewWithOptions(opts ...PostgresOptionFunc) (*MetadataStorePostgres, error) {
	db := &MetadataStorePostgres{}
	for _, opt := range opts {
		opt(db)
	}
	db.dsn = strings.TrimSpace(db.dsn)
	if db.dsn == "" {
		return nil, ErrMissingDSN
	}
	if _, err := pgconn.ParseConfig(db.dsn); err != nil {
		return nil, err
	}
	if db.logger == nil {
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return db, nil
}

// target returns the host and database named by the DSN, for logging
func (d *MetadataStorePostgres) target() (string, string) {
	cfg, err := pgconn.ParseConfig(d.dsn)
	if err != nil {
		return "", ""
	}
	return cfg.Host, cfg.Database
}

// Start connects to the database and applies the schema
func (d *MetadataStorePostgres) Start() error {
	metadataDb, err := gorm.Open(postgres.Open(d.dsn), gormutil.Config())
	if err != nil {
		return err
	}
	host, database := d.target()
	d.logger.Info(
		"connected to postgres metadata store",
		"component", "database",
		"host", host,
		"database", database,
	)
	d.db = metadataDb
	if err := d.pool.Apply(d.db); err != nil {
		return err
	}
	return gormutil.Setup(d.db, pluginName, d.logger, d.promRegistry)
}

// AutoMigrate wraps the gorm AutoMigrate
func (d *MetadataStorePostgres) AutoMigrate(dst ...any) error {
	return d.DB().AutoMigrate(dst...)
}

// Close closes the underlying connection pool, if Start succeeded
func (d *MetadataStorePostgres) Close() error {
	if d.db == nil {
		return nil
	}
	db, err := d.DB().DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (d *MetadataStorePostgres) DB() *gorm.DB {
	return d.db
}

// Transaction creates a gorm transaction
func (d *MetadataStorePostgres) Transaction() *gorm.DB {
	return d.DB().Begin()
}
