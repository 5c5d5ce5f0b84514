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

package metadata

import (
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/prism/database/plugin/metadata/mysql"
	"github.com/blinklabs-io/prism/database/plugin/metadata/postgres"
	"github.com/blinklabs-io/prism/database/plugin/metadata/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const DefaultPlugin = "sqlite"

type MetadataStore interface {
	Close() error
	DB() *gorm.DB
	Transaction() *gorm.DB
	AutoMigrate(...any) error
}

// New returns the started metadata store selected by name. The sqlite plugin
// stores its database under dataDir (in memory when empty), the others
// connect using dsn.
func New(
	pluginName string,
	dataDir string,
	dsn string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	switch pluginName {
	case "", DefaultPlugin:
		return sqlite.New(dataDir, logger, promRegistry)
	case "postgres":
		db, err := postgres.NewWithOptions(
			postgres.WithDSN(dsn),
			postgres.WithLogger(logger),
			postgres.WithPromRegistry(promRegistry),
		)
		if err != nil {
			return nil, err
		}
		if err := db.Start(); err != nil {
			return nil, fmt.Errorf("failed to start metadata plugin 'postgres': %w", err)
		}
		return db, nil
	case "mysql":
		db, err := mysql.NewWithOptions(
			mysql.WithDSN(dsn),
			mysql.WithLogger(logger),
			mysql.WithPromRegistry(promRegistry),
		)
		if err != nil {
			return nil, err
		}
		if err := db.Start(); err != nil {
			return nil, fmt.Errorf("failed to start metadata plugin 'mysql': %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("metadata plugin '%s' not found", pluginName)
	}
}
