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

package mysql

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/blinklabs-io/prism/database/plugin/metadata/internal/gormutil"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	pluginName = "mysql"

	errUnknownDatabase = 1049
)

var ErrMissingDSN = errors.New("mysql metadata plugin requires a dsn")

// MetadataStoreMysql stores indexer state in MySQL
type MetadataStoreMysql struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger
	dsn          string
	dbName       string
	pool         gormutil.Pool
}

// NewWithOptions creates a new database with options. The DSN must name a
// database, which is created on Start when missing.
func NewWithOptions(opts ...MysqlOptionFunc) (*MetadataStoreMysql, error) {
	db := &MetadataStoreMysql{}
	for _, opt := range opts {
		opt(db)
	}
	if strings.TrimSpace(db.dsn) == "" {
		return nil, ErrMissingDSN
	}
	cfg, err := mysql.ParseDSN(strings.TrimSpace(db.dsn))
	if err != nil {
		return nil, err
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("mysql dsn does not name a database")
	}
	// Timestamps are scanned into time.Time
	cfg.ParseTime = true
	db.dsn = cfg.FormatDSN()
	db.dbName = cfg.DBName
	if db.logger == nil {
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return db, nil
}

// Start connects to the database, creating it when missing, and applies the schema
func (d *MetadataStoreMysql) Start() error {
	metadataDb, err := gorm.Open(gormmysql.Open(d.dsn), gormutil.Config())
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if !errors.As(err, &mysqlErr) || mysqlErr.Number != errUnknownDatabase {
			return err
		}
		if err := d.createDatabase(); err != nil {
			return err
		}
		metadataDb, err = gorm.Open(gormmysql.Open(d.dsn), gormutil.Config())
		if err != nil {
			return err
		}
	}
	d.logger.Info(
		"connected to mysql metadata store",
		"component", "database",
		"database", d.dbName,
	)
	d.db = metadataDb
	if err := d.pool.Apply(d.db); err != nil {
		return err
	}
	return gormutil.Setup(d.db, pluginName, d.logger, d.promRegistry)
}

func (d *MetadataStoreMysql) createDatabase() error {
	cfg, err := mysql.ParseDSN(d.dsn)
	if err != nil {
		return err
	}
	cfg.DBName = ""
	adminDb, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), gormutil.Config())
	if err != nil {
		return err
	}
	sqlAdminDb, err := adminDb.DB()
	if err != nil {
		return err
	}
	defer sqlAdminDb.Close()
	result := adminDb.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", d.dbName))
	return result.Error
}

// AutoMigrate wraps the gorm AutoMigrate
func (d *MetadataStoreMysql) AutoMigrate(dst ...any) error {
	return d.DB().AutoMigrate(dst...)
}

func (d *MetadataStoreMysql) Close() error {
	if d.db == nil {
		return nil
	}
	db, err := d.DB().DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// DB returns the database handle
func (d *MetadataStoreMysql) DB() *gorm.DB {
	return d.db
}

// Transaction creates a gorm transaction
func (d *MetadataStoreMysql) Transaction() *gorm.DB {
	return d.DB().Begin()
}
