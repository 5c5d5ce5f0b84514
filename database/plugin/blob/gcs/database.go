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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/option"

	"github.com/blinklabs-io/prism/database/types"
)

const DefaultTimeout = 30 * time.Second

// BlobStoreGCS stores data in a Google Cloud Storage bucket.
type BlobStoreGCS struct {
	promRegistry    prometheus.Registerer
	logger          *GcsLogger
	client          *storage.Client
	bucket          *storage.BucketHandle
	metrics         *gcsMetrics
	clientOpts      []option.ClientOption
	bucketName      string
	prefix          string
	credentialsFile string
	timeout         time.Duration
}

// gcsTxn buffers writes until commit
type gcsTxn struct {
	store     *BlobStoreGCS
	pending   map[string][]byte
	finished  bool
	readWrite bool
}

// New creates a new GCS-backed blob store from a location of the form
// "gcs://bucket" or "gcs://bucket/prefix"
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreGCS, error) {
	bucketName, keyPrefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(
		WithBucket(bucketName),
		WithPrefix(keyPrefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// ParseLocation splits a "gcs://bucket[/prefix]" location
func ParseLocation(location string) (string, string, error) {
	path, ok := strings.CutPrefix(location, "gcs://")
	if !ok {
		return "", "", errors.New(
			"gcs blob: expected location 'gcs://<bucket>[/prefix]'",
		)
	}
	bucketName, keyPrefix, _ := strings.Cut(path, "/")
	if bucketName == "" {
		return "", "", errors.New("gcs blob: bucket not set")
	}
	keyPrefix = strings.Trim(keyPrefix, "/")
	if keyPrefix != "" {
		keyPrefix += "/"
	}
	return bucketName, keyPrefix, nil
}

// NewWithOptions creates a new GCS-backed blob store using options and
// connects to it
func NewWithOptions(opts ...BlobStoreGCSOptionFunc) (*BlobStoreGCS, error) {
	db := &BlobStoreGCS{
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		db.logger = NewGcsLogger(nil)
	}
	if err := db.Start(); err != nil {
		return nil, err
	}
	return db, nil
}

// ValidateCredentials checks that a configured credentials file exists
func ValidateCredentials(credentialsFile string) error {
	if credentialsFile == "" {
		return nil
	}
	if _, err := os.Stat(credentialsFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf(
				"GCS credentials file does not exist: %s",
				credentialsFile,
			)
		}
		return fmt.Errorf("GCS credentials file: %w", err)
	}
	return nil
}

// Start creates the storage client
func (d *BlobStoreGCS) Start() error {
	if d.bucketName == "" {
		return errors.New("gcs blob: bucket not set")
	}
	if err := ValidateCredentials(d.credentialsFile); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	clientOpts := []option.ClientOption{storage.WithDisabledClientMetrics()}
	if d.credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(d.credentialsFile),
		)
	}
	clientOpts = append(clientOpts, d.clientOpts...)
	client, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return fmt.Errorf(
			"gcs blob: failed in creating storage client: %w",
			err,
		)
	}
	d.client = client
	d.bucket = client.Bucket(d.bucketName)
	if d.promRegistry != nil {
		d.metrics = newGcsMetrics(d.promRegistry)
	}
	return nil
}

// Close closes the GCS client.
func (d *BlobStoreGCS) Close() error {
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// Client returns the GCS client
func (d *BlobStoreGCS) Client() *storage.Client {
	return d.client
}

// Bucket returns the bucket handle
func (d *BlobStoreGCS) Bucket() *storage.BucketHandle {
	return d.bucket
}

// NewTransaction returns a transaction that buffers writes until commit
func (d *BlobStoreGCS) NewTransaction(readWrite bool) types.Txn {
	return &gcsTxn{
		store:     d,
		readWrite: readWrite,
		pending:   make(map[string][]byte),
	}
}

func (d *BlobStoreGCS) validateTxn(txn types.Txn) (*gcsTxn, error) {
	if txn == nil {
		return nil, types.ErrNilTxn
	}
	t, ok := txn.(*gcsTxn)
	if !ok || t.store != d {
		return nil, types.ErrTxnWrongType
	}
	if t.finished {
		return nil, errors.New("transaction already finished")
	}
	if d.client == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	return t, nil
}

// Get retrieves a value, including writes pending in the transaction
func (d *BlobStoreGCS) Get(txn types.Txn, key []byte) ([]byte, error) {
	t, err := d.validateTxn(txn)
	if err != nil {
		return nil, err
	}
	if val, ok := t.pending[string(key)]; ok {
		if val == nil {
			return nil, types.ErrBlobKeyNotFound
		}
		return slices.Clone(val), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	r, err := d.bucket.Object(d.prefix + string(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, types.ErrBlobKeyNotFound
		}
		d.logger.Errorf("gcs get %q failed: %v", key, err)
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		d.logger.Errorf("gcs read %q failed: %v", key, err)
		return nil, err
	}
	d.metrics.record("get", len(data))
	return data, nil
}

// Set stores a key-value pair when the transaction commits
func (d *BlobStoreGCS) Set(txn types.Txn, key, val []byte) error {
	t, err := d.validateTxn(txn)
	if err != nil {
		return err
	}
	if !t.readWrite {
		return errors.New("transaction is read-only")
	}
	if val == nil {
		val = []byte{}
	}
	t.pending[string(key)] = slices.Clone(val)
	return nil
}

// Delete removes a key when the transaction commits
func (d *BlobStoreGCS) Delete(txn types.Txn, key []byte) error {
	t, err := d.validateTxn(txn)
	if err != nil {
		return err
	}
	if !t.readWrite {
		return errors.New("transaction is read-only")
	}
	t.pending[string(key)] = nil
	return nil
}

func (t *gcsTxn) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	ctx, cancel := context.WithTimeout(context.Background(), t.store.timeout)
	defer cancel()
	keys := make([]string, 0, len(t.pending))
	for key := range t.pending {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if err := t.store.flush(ctx, key, t.pending[key]); err != nil {
			return err
		}
	}
	return nil
}

func (t *gcsTxn) Rollback() error {
	t.finished = true
	t.pending = nil
	return nil
}

// flush writes a value to the bucket, or deletes the object for a nil value
func (d *BlobStoreGCS) flush(ctx context.Context, key string, val []byte) error {
	obj := d.bucket.Object(d.prefix + key)
	if val == nil {
		err := obj.Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			d.logger.Errorf("gcs delete %q failed: %v", key, err)
			return err
		}
		d.metrics.record("delete", 0)
		return nil
	}
	w := obj.NewWriter(ctx)
	if _, err := w.Write(val); err != nil {
		_ = w.Close()
		d.logger.Errorf("gcs write %q failed: %v", key, err)
		return err
	}
	if err := w.Close(); err != nil {
		d.logger.Errorf("gcs put %q failed: %v", key, err)
		return err
	}
	d.metrics.record("put", len(val))
	d.logger.Debugf("gcs put %q ok (%d bytes)", key, len(val))
	return nil
}
