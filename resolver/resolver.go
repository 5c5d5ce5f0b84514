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

// Package resolver resolves PRISM DIDs from the indexed operation history
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/did"
	"github.com/blinklabs-io/prism/signing"
)

const tracerName = "github.com/blinklabs-io/prism/resolver"

// Resolution is the state of a DID at a version
type Resolution struct {
	Document *did.Document
	// Created is the time of the create operation. It is zero for an
	// unpublished long-form DID.
	Created time.Time
	// Updated is the time of the operation that produced the version
	Updated time.Time
	// NextOperationTime is the time of the operation that superseded the
	// version, or nil when the version is the latest
	NextOperationTime *time.Time
	Status            did.Status
	// Published is false when the document was derived from the state
	// carried in a long-form DID
	Published bool
}

type Resolver struct {
	db       *database.Database
	logger   *slog.Logger
	verifier signing.Verifier
	tracer   trace.Tracer
}

type ResolverOptionFunc func(*Resolver)

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ResolverOptionFunc {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithVerifier specifies the hashing and signature collaborator used for
// long-form DIDs
func WithVerifier(verifier signing.Verifier) ResolverOptionFunc {
	return func(r *Resolver) {
		r.verifier = verifier
	}
}

// WithTracerProvider specifies the provider of resolution spans. The global
// provider is used by default.
func WithTracerProvider(provider trace.TracerProvider) ResolverOptionFunc {
	return func(r *Resolver) {
		r.tracer = provider.Tracer(tracerName)
	}
}

func New(db *database.Database, opts ...ResolverOptionFunc) *Resolver {
	r := &Resolver{
		db: db,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r.logger = r.logger.With("component", "resolver")
	if r.verifier == nil {
		r.verifier = signing.Secp256k1{}
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// Resolve returns the latest state of a DID. A long-form DID that was never
// published resolves to the document carried in its encoded state.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Resolution, error) {
	return r.resolve(ctx, "Resolve", id, nil)
}

// ResolveVersion returns the state of a DID right after the operation with
// the given hash was applied
func (r *Resolver) ResolveVersion(
	ctx context.Context,
	id string,
	version []byte,
) (*Resolution, error) {
	if len(version) == 0 {
		return nil, fmt.Errorf("%w: empty version", did.ErrOperationNotFound)
	}
	return r.resolve(ctx, "ResolveVersion", id, version)
}

func (r *Resolver) resolve(
	ctx context.Context,
	spanName string,
	id string,
	version []byte,
) (ret *Resolution, err error) {
	ctx, span := r.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("did", id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	identifier, err := did.ParseDID(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := r.db.Transaction(false)
	defer txn.Release()
	ops, err := r.db.DIDStore(txn).OperationsForDID(ctx, identifier.Suffix)
	if err != nil {
		return nil, fmt.Errorf("load operations of %s: %w", identifier, err)
	}
	if len(ops) == 0 {
		if !identifier.IsLongForm() || version != nil {
			return nil, fmt.Errorf("%w: %s", did.ErrUnknownDID, identifier)
		}
		doc, err := did.DocumentFromLongForm(identifier, r.verifier)
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Document: doc,
			Status:   doc.Status(),
		}, nil
	}
	doc, err := did.ReplayUntil(ops, version)
	if err != nil {
		if errors.Is(err, did.ErrCorruptHistory) {
			r.logger.Error(
				"stored history does not replay",
				"did", identifier.String(),
				"error", err,
			)
		}
		return nil, err
	}
	ret = &Resolution{
		Document:  doc,
		Status:    doc.Status(),
		Created:   ops[0].Time,
		Published: true,
	}
	for _, op := range ops {
		if op.HashHex() == doc.VersionHex() {
			ret.Updated = op.Time
			break
		}
	}
	if version == nil {
		return ret, nil
	}
	next, err := r.db.OperationNext(version, txn)
	if err != nil {
		if errors.Is(err, models.ErrOperationNotFound) {
			return ret, nil
		}
		return nil, fmt.Errorf("load operation following %x: %w", version, err)
	}
	nextTime := next.Time
	ret.NextOperationTime = &nextTime
	span.SetAttributes(attribute.String("next_operation", fmt.Sprintf("%x", next.Hash)))
	return ret, nil
}
