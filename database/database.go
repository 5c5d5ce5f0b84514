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

package database

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/prism/database/plugin/blob"
	"github.com/blinklabs-io/prism/database/plugin/metadata"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultAddressCacheTTL = 10 * time.Minute

// Config holds the settings used to open a Database
type Config struct {
	PromRegistry    prometheus.Registerer
	Logger          *slog.Logger
	DataDir         string
	BlobPlugin      string
	BlobLocation    string
	MetadataPlugin  string
	MetadataDSN     string
	AddressCacheTTL time.Duration
}

// Database is the ledger state store. Relational state lives in the
// metadata store and raw transaction metadata in the blob store.
type Database struct {
	logger    *slog.Logger
	blob      blob.BlobStore
	metadata  metadata.MetadataStore
	addresses *addressCache
	dataDir   string
}

// Blob returns the underling blob store instance
func (d *Database) Blob() blob.BlobStore {
	return d.blob
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// Transaction starts a new database transaction and returns a handle to it
func (d *Database) Transaction(readWrite bool) *Txn {
	return NewTxn(d, readWrite)
}

// Update runs fn in a read-write transaction, committing when it returns nil
func (d *Database) Update(fn func(*Txn) error) error {
	return d.Transaction(true).Do(fn)
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	// Close metadata
	if d.metadata != nil {
		metadataErr := d.metadata.Close()
		err = errors.Join(err, metadataErr)
	}
	// Close blob
	if d.blob != nil {
		blobErr := d.blob.Close()
		err = errors.Join(err, blobErr)
	}
	return err
}

func (d *Database) init() error {
	// Check commit timestamp
	if err := d.checkCommitTimestamp(); err != nil {
		return err
	}
	return nil
}

// New creates a new database instance with optional persistence using the
// data directory from the config
func New(config *Config) (*Database, error) {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	metadataDb, err := metadata.New(
		config.MetadataPlugin,
		config.DataDir,
		config.MetadataDSN,
		logger,
		config.PromRegistry,
	)
	if err != nil {
		return nil, err
	}
	blobDb, err := blob.New(
		config.BlobPlugin,
		config.DataDir,
		config.BlobLocation,
		logger,
		config.PromRegistry,
	)
	if err != nil {
		_ = metadataDb.Close()
		return nil, err
	}
	cacheTTL := config.AddressCacheTTL
	if cacheTTL == 0 {
		cacheTTL = DefaultAddressCacheTTL
	}
	db := &Database{
		logger:    logger,
		blob:      blobDb,
		metadata:  metadataDb,
		dataDir:   config.DataDir,
		addresses: newAddressCache(cacheTTL, config.PromRegistry),
	}
	if err := db.init(); err != nil {
		// Database is available for recovery, so return it with error
		return db, err
	}
	return db, nil
}
