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

package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/did"
	"github.com/blinklabs-io/prism/internal/test/testutil"
	"github.com/blinklabs-io/prism/ledgersync"
	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/provider"
	"github.com/blinklabs-io/prism/provider/memory"
	"github.com/blinklabs-io/prism/resolver"
	"github.com/blinklabs-io/prism/signing"
)

type testLedger struct {
	db    *database.Database
	chain *memory.Chain
	sync  *ledgersync.Orchestrator
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	chain := memory.New()
	o, err := ledgersync.New(ledgersync.Config{
		Database: db,
		Provider: chain,
		Network:  "preprod",
	})
	require.NoError(t, err)
	return &testLedger{db: db, chain: chain, sync: o}
}

// publish adds a block with the operations and indexes it
func (l *testLedger) publish(t *testing.T, ops ...protocol.SignedOperation) provider.Block {
	t.Helper()
	tx, err := memory.ProtocolTx(ops)
	require.NoError(t, err)
	block := l.chain.AddBlock(tx)
	for {
		progress, err := l.sync.SyncOnce(context.Background())
		require.NoError(t, err)
		if progress.Idle {
			return block
		}
	}
}

func TestResolve(t *testing.T) {
	l := newTestLedger(t)
	id := testutil.NewIdentity(t)
	update := id.Update(id.Create, testutil.AddService("svc0", "https://a.example"))
	deactivate := id.Deactivate(update)
	created := l.publish(t, id.Create)
	updated := l.publish(t, update)
	r := resolver.New(l.db)

	res, err := r.Resolve(context.Background(), "did:prism:"+id.Suffix)
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.Equal(t, did.StatusActive, res.Status)
	assert.Equal(t, testutil.OperationHash(update), res.Document.VersionHex())
	assert.True(t, created.Time.Equal(res.Created))
	assert.True(t, updated.Time.Equal(res.Updated))
	assert.Nil(t, res.NextOperationTime)

	deactivated := l.publish(t, deactivate)
	res, err = r.Resolve(context.Background(), "did:prism:"+id.Suffix)
	require.NoError(t, err)
	assert.Equal(t, did.StatusDeactivated, res.Status)
	assert.True(t, deactivated.Time.Equal(res.Updated))
}

func TestResolveVersion(t *testing.T) {
	l := newTestLedger(t)
	id := testutil.NewIdentity(t)
	update := id.Update(id.Create, testutil.AddService("svc0", "https://a.example"))
	l.publish(t, id.Create)
	updated := l.publish(t, update)
	r := resolver.New(l.db)

	res, err := r.ResolveVersion(
		context.Background(),
		"did:prism:"+id.Suffix,
		signing.Hash(id.Create.Operation),
	)
	require.NoError(t, err)
	assert.Empty(t, res.Document.Services)
	assert.Equal(t, testutil.OperationHash(id.Create), res.Document.VersionHex())
	require.NotNil(t, res.NextOperationTime)
	assert.True(t, updated.Time.Equal(*res.NextOperationTime))

	res, err = r.ResolveVersion(
		context.Background(),
		"did:prism:"+id.Suffix,
		signing.Hash(update.Operation),
	)
	require.NoError(t, err)
	assert.Len(t, res.Document.Services, 1)
	assert.Nil(t, res.NextOperationTime)

	_, err = r.ResolveVersion(
		context.Background(),
		"did:prism:"+id.Suffix,
		signing.Hash([]byte("unknown")),
	)
	assert.ErrorIs(t, err, did.ErrOperationNotFound)
	_, err = r.ResolveVersion(context.Background(), "did:prism:"+id.Suffix, nil)
	assert.ErrorIs(t, err, did.ErrOperationNotFound)
}

func TestResolveLongForm(t *testing.T) {
	l := newTestLedger(t)
	id := testutil.NewIdentity(t, protocol.Service{
		ID:       "svc0",
		Type:     "LinkedDomains",
		Endpoint: "https://a.example",
	})
	longForm := did.NewLongForm(id.Create.Operation).LongForm()
	r := resolver.New(l.db)

	res, err := r.Resolve(context.Background(), longForm)
	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.True(t, res.Created.IsZero())
	assert.Equal(t, "did:prism:"+id.Suffix, res.Document.ID)
	assert.Len(t, res.Document.Services, 1)

	// Once published the indexed history wins over the encoded state
	l.publish(t, id.Create)
	l.publish(t, id.Deactivate(id.Create))
	res, err = r.Resolve(context.Background(), longForm)
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.Equal(t, did.StatusDeactivated, res.Status)
}

func TestResolveErrors(t *testing.T) {
	l := newTestLedger(t)
	r := resolver.New(l.db)
	_, err := r.Resolve(context.Background(), "did:web:example.com")
	assert.ErrorIs(t, err, did.ErrInvalidDID)
	assert.True(t, did.IsMalformed(err))

	id := testutil.NewIdentity(t)
	_, err = r.Resolve(context.Background(), "did:prism:"+id.Suffix)
	assert.ErrorIs(t, err, did.ErrUnknownDID)

	other := testutil.NewIdentity(t)
	forged := did.Identifier{Suffix: id.Suffix, EncodedState: other.Create.Operation}
	_, err = r.Resolve(context.Background(), forged.LongForm())
	assert.ErrorIs(t, err, did.ErrInvalidLongForm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "did:prism:"+id.Suffix)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveSpans(t *testing.T) {
	l := newTestLedger(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, tp.Shutdown(ctx))
	})
	r := resolver.New(l.db, resolver.WithTracerProvider(tp))
	id := testutil.NewIdentity(t)
	l.publish(t, id.Create)

	_, err := r.Resolve(context.Background(), "did:prism:"+id.Suffix)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "did:prism:abc")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "Resolve", spans[0].Name())
	assert.Empty(t, spans[0].Events())
	assert.Len(t, spans[1].Events(), 1)
}
