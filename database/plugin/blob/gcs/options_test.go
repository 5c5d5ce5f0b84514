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

package gcs

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/option"

	"github.com/blinklabs-io/prism/database/types"
)

func TestOptions(t *testing.T) {
	registry := prometheus.NewRegistry()
	b := &BlobStoreGCS{}
	for _, opt := range []BlobStoreGCSOptionFunc{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPromRegistry(registry),
		WithBucket("test-bucket"),
		WithPrefix("prism/"),
		WithCredentialsFile("/tmp/creds.json"),
		WithTimeout(5 * time.Second),
		WithClientOptions(option.WithoutAuthentication()),
	} {
		opt(b)
	}
	assert.NotNil(t, b.logger)
	assert.Equal(t, registry, b.promRegistry)
	assert.Equal(t, "test-bucket", b.bucketName)
	assert.Equal(t, "prism/", b.prefix)
	assert.Equal(t, "/tmp/creds.json", b.credentialsFile)
	assert.Equal(t, 5*time.Second, b.timeout)
	assert.Len(t, b.clientOpts, 1)
}

func TestTxnWithoutClient(t *testing.T) {
	b := &BlobStoreGCS{logger: NewGcsLogger(nil)}
	txn := b.NewTransaction(true)
	_, err := b.Get(txn, []byte("key"))
	assert.ErrorIs(t, err, types.ErrBlobStoreUnavailable)
	assert.ErrorIs(t, b.Set(txn, []byte("key"), []byte("v")), types.ErrBlobStoreUnavailable)
	gt := txn.(*gcsTxn)
	assert.Empty(t, gt.pending)
	assert.NoError(t, txn.Rollback())
	assert.True(t, gt.finished)
}
