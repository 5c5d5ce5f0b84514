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

package dbsync

import (
	"log/slog"

	"github.com/jmoiron/sqlx"
)

type ProviderOptionFunc func(*Provider)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ProviderOptionFunc {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithDSN specifies the connection string of the db-sync Postgres database
func WithDSN(dsn string) ProviderOptionFunc {
	return func(p *Provider) {
		p.dsn = dsn
	}
}

// WithDB specifies an already opened database, which is not closed by the provider
func WithDB(db *sqlx.DB) ProviderOptionFunc {
	return func(p *Provider) {
		p.db = db
	}
}

// WithMaxOpenConns limits the number of open connections
func WithMaxOpenConns(maxOpenConns int) ProviderOptionFunc {
	return func(p *Provider) {
		p.maxOpenConns = maxOpenConns
	}
}
