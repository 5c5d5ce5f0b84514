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

// Package gormutil holds the setup shared by the gorm based metadata plugins
package gormutil

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/blinklabs-io/prism/database/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Config returns the gorm configuration used by all metadata plugins
func Config() *gorm.Config {
	return &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
}

// Pool holds the connection pool limits applied to the underlying sql.DB
type Pool struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func DefaultPool() Pool {
	return Pool{
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
	}
}

// Apply configures the pool of an opened database. Zero values keep the
// defaults.
func (p Pool) Apply(db *gorm.DB) error {
	def := DefaultPool()
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = def.MaxIdleConns
	}
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = def.MaxOpenConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = def.ConnMaxLifetime
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(p.MaxIdleConns)
	sqlDB.SetMaxOpenConns(p.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(p.ConnMaxLifetime)
	return nil
}

// Setup enables tracing and metrics on an opened database and applies the
// schema migrations
func Setup(
	db *gorm.DB,
	pluginName string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) error {
	// Configure tracing for GORM
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	if promRegistry != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		collector := collectors.NewDBStatsCollector(sqlDB, "metadata_"+pluginName)
		if err := promRegistry.Register(collector); err != nil {
			return err
		}
	}
	// Create table schemas
	for _, model := range models.MigrateModels {
		logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := db.AutoMigrate(model); err != nil {
			return err
		}
	}
	return nil
}
