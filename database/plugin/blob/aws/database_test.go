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

package aws_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/prism/database/plugin/blob/aws"
	"github.com/blinklabs-io/prism/database/types"
)

// fakeS3 implements the path-style object calls of the S3 API
type fakeS3 struct {
	objects map[string][]byte
	mu      sync.Mutex
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(
				w,
				`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`,
			)
			return
		}
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]string, 0, len(f.objects))
	for key := range f.objects {
		ret = append(ret, key)
	}
	return ret
}

func newTestStore(t *testing.T, registry prometheus.Registerer) (*aws.BlobStoreS3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	store, err := aws.NewWithOptions(
		aws.WithBucket("payloads"),
		aws.WithPrefix("prism/"),
		aws.WithRegion("us-east-1"),
		aws.WithEndpoint(ts.URL),
		aws.WithCredentials("test", "secret"),
		aws.WithPromRegistry(registry),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store, fake
}

func TestParseLocation(t *testing.T) {
	bucket, prefix, err := aws.ParseLocation("s3://payloads/prism/archive/")
	require.NoError(t, err)
	assert.Equal(t, "payloads", bucket)
	assert.Equal(t, "prism/archive/", prefix)
	bucket, prefix, err = aws.ParseLocation("s3://payloads")
	require.NoError(t, err)
	assert.Equal(t, "payloads", bucket)
	assert.Empty(t, prefix)
	_, _, err = aws.ParseLocation("gcs://payloads")
	assert.Error(t, err)
	_, _, err = aws.ParseLocation("s3://")
	assert.Error(t, err)
}

func TestSetGetDelete(t *testing.T) {
	registry := prometheus.NewRegistry()
	store, fake := newTestStore(t, registry)
	key := types.PayloadBlobKey([]byte{0x01, 0x02})

	txn := store.NewTransaction(true)
	require.NoError(t, store.Set(txn, key, []byte("payload")))
	// Pending writes are visible in the transaction only
	val, err := store.Get(txn, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)
	assert.Empty(t, fake.keys())
	require.NoError(t, txn.Commit())
	assert.Equal(t, []string{"payloads/prism/" + string(key)}, fake.keys())

	readTxn := store.NewTransaction(false)
	val, err = store.Get(readTxn, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)
	assert.Error(t, store.Set(readTxn, key, []byte("other")))
	require.NoError(t, readTxn.Rollback())

	txn = store.NewTransaction(true)
	require.NoError(t, store.Delete(txn, key))
	_, err = store.Get(txn, key)
	assert.ErrorIs(t, err, types.ErrBlobKeyNotFound)
	require.NoError(t, txn.Commit())
	assert.Empty(t, fake.keys())

	readTxn = store.NewTransaction(false)
	defer readTxn.Rollback() //nolint:errcheck
	_, err = store.Get(readTxn, key)
	assert.ErrorIs(t, err, types.ErrBlobKeyNotFound)

	count, err := promtestutil.GatherAndCount(registry, "database_blob_s3_ops_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	store, fake := newTestStore(t, nil)
	txn := store.NewTransaction(true)
	require.NoError(t, store.Set(txn, []byte("key"), []byte("value")))
	require.NoError(t, txn.Rollback())
	assert.Empty(t, fake.keys())
	_, err := store.Get(txn, []byte("key"))
	assert.Error(t, err)
}

func TestCommitTimestamp(t *testing.T) {
	store, _ := newTestStore(t, nil)
	_, err := store.GetCommitTimestamp()
	assert.ErrorIs(t, err, types.ErrBlobKeyNotFound)
	txn := store.NewTransaction(true)
	require.NoError(t, store.SetCommitTimestamp(1735689600000, txn))
	require.NoError(t, txn.Commit())
	ts, err := store.GetCommitTimestamp()
	require.NoError(t, err)
	assert.Equal(t, int64(1735689600000), ts)
	assert.ErrorIs(t, store.SetCommitTimestamp(1, nil), types.ErrNilTxn)
}

func TestWrongTransaction(t *testing.T) {
	store, _ := newTestStore(t, nil)
	other, _ := newTestStore(t, nil)
	_, err := store.Get(other.NewTransaction(false), []byte("key"))
	assert.ErrorIs(t, err, types.ErrTxnWrongType)
	_, err = store.Get(nil, []byte("key"))
	assert.ErrorIs(t, err, types.ErrNilTxn)
}
