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

package blob

import (
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/prism/database/plugin/blob/aws"
	"github.com/blinklabs-io/prism/database/plugin/blob/badger"
	"github.com/blinklabs-io/prism/database/plugin/blob/gcs"
	"github.com/blinklabs-io/prism/database/types"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultPlugin = "badger"

type BlobStore interface {
	Close() error
	NewTransaction(bool) types.Txn
	Get(types.Txn, []byte) ([]byte, error)
	Set(types.Txn, []byte, []byte) error
	Delete(types.Txn, []byte) error

	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(int64, types.Txn) error
}

// New returns the blob store selected by name. An empty dataDir selects an
// in-memory badger store. The object store plugins take their bucket from
// location.
func New(
	pluginName string,
	dataDir string,
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (BlobStore, error) {
	switch pluginName {
	case "", DefaultPlugin:
		return badger.New(
			badger.WithDataDir(dataDir),
			badger.WithLogger(logger),
			badger.WithPromRegistry(promRegistry),
		)
	case "s3":
		store, err := aws.New(location, logger, promRegistry)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "gcs":
		store, err := gcs.New(location, logger, promRegistry)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("blob plugin '%s' not found", pluginName)
	}
}
