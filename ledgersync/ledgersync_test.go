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

package ledgersync_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/database/types"
	"github.com/blinklabs-io/prism/did"
	"github.com/blinklabs-io/prism/event"
	"github.com/blinklabs-io/prism/internal/test/testutil"
	"github.com/blinklabs-io/prism/ledgersync"
	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/provider"
	"github.com/blinklabs-io/prism/provider/memory"
	"github.com/blinklabs-io/prism/signing"
)

const testNetwork = "preprod"

func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	return db
}

func newOrchestrator(
	t *testing.T,
	db *database.Database,
	prov provider.Provider,
	opts ...func(*ledgersync.Config),
) *ledgersync.Orchestrator {
	t.Helper()
	cfg := ledgersync.Config{
		Database:     db,
		Provider:     prov,
		Network:      testNetwork,
		PollInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	o, err := ledgersync.New(cfg)
	require.NoError(t, err)
	return o
}

// syncUntilIdle runs sync steps until one finds nothing to do
func syncUntilIdle(t *testing.T, o *ledgersync.Orchestrator) []*ledgersync.Progress {
	t.Helper()
	var ret []*ledgersync.Progress
	for range 100 {
		progress, err := o.SyncOnce(context.Background())
		require.NoError(t, err)
		if progress.Idle {
			return ret
		}
		ret = append(ret, progress)
	}
	t.Fatalf("sync did not become idle")
	return nil
}

func protocolTx(t *testing.T, ops ...protocol.SignedOperation) memory.Tx {
	t.Helper()
	tx, err := memory.ProtocolTx(ops)
	require.NoError(t, err)
	return tx
}

func metadataTx(payload string) memory.Tx {
	return memory.Tx{
		Metadata: map[uint64]json.RawMessage{
			provider.ProtocolMetadataKey: json.RawMessage(payload),
		},
	}
}

func ledgerID(t *testing.T, db *database.Database) uint {
	t.Helper()
	ledger, err := db.Ledger(testNetwork, nil)
	require.NoError(t, err)
	return ledger.ID
}

func resolve(t *testing.T, db *database.Database, suffix string) *did.Document {
	t.Helper()
	txn := db.Transaction(false)
	defer txn.Release()
	ops, err := db.DIDStore(txn).OperationsForDID(context.Background(), suffix)
	require.NoError(t, err)
	doc, err := did.Replay(ops)
	require.NoError(t, err)
	return doc
}

func TestSyncAppliesOperations(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New()
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(bus.Stop)
	_, blockCh := bus.Subscribe(event.BlockAppliedEventType)
	_, appliedCh := bus.Subscribe(event.OperationAppliedEventType)
	o := newOrchestrator(t, db, chain, func(cfg *ledgersync.Config) {
		cfg.EventBus = bus
	})

	id := testutil.NewIdentity(t)
	update := id.Update(id.Create, testutil.AddService("svc0", "https://a.example"))
	chain.AddEmptyBlocks(2)
	createBlock := chain.AddBlock(memory.Tx{}, protocolTx(t, id.Create))
	chain.AddEmptyBlocks(3)
	updateBlock := chain.AddBlock(protocolTx(t, update))
	chain.AddEmptyBlocks(1)

	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 2)
	assert.Equal(t, createBlock.Height, steps[0].Applied.Height)
	assert.Equal(t, updateBlock.Height, steps[1].Applied.Height)

	checkpoint, err := db.BlockLatest(ledgerID(t, db), nil)
	require.NoError(t, err)
	assert.Equal(t, updateBlock.Hash, checkpoint.Hash)
	assert.Equal(t, uint32(1), checkpoint.TxCount)
	// The count covers every transaction, not only the protocol ones
	createRow, err := db.BlockByHeight(ledgerID(t, db), createBlock.Height, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), createRow.TxCount)
	ledger, err := db.Ledger(testNetwork, nil)
	require.NoError(t, err)
	require.NotNil(t, ledger.LastSyncedAt)

	doc := resolve(t, db, id.Suffix)
	assert.Equal(t, did.StatusActive, doc.Status())
	assert.Equal(t, testutil.OperationHash(update), doc.VersionHex())
	require.Len(t, doc.Services, 1)

	ops, err := db.OperationsForDID(id.Suffix, nil)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, createBlock.Height, ops[0].BlockHeight)
	assert.Equal(t, uint32(1), ops[0].TxIndex)
	assert.True(t, createBlock.Time.Equal(ops[0].Time))

	txs, err := db.TransactionsForBlock(steps[0].Applied.ID, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	payload, err := db.Payload(txs[0].Hash, nil)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"version":1`)

	blockEvt := testutil.RequireReceive(t, blockCh, time.Second, "block applied")
	assert.Equal(t, createBlock.Height, blockEvt.Data.(event.BlockAppliedEvent).Height)
	appliedEvt := testutil.RequireReceive(t, appliedCh, time.Second, "operation applied")
	assert.Equal(t, "did:prism:"+id.Suffix, appliedEvt.Data.(event.OperationAppliedEvent).DID)
}

func TestSyncReplayedOperation(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New()
	o := newOrchestrator(t, db, chain)
	id := testutil.NewIdentity(t)
	chain.AddBlock(protocolTx(t, id.Create, id.Create))
	chain.AddBlock(protocolTx(t, id.Create))

	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 2)
	for _, step := range steps {
		assert.Zero(t, step.Rejected)
	}
	ops, err := db.OperationsForDID(id.Suffix, nil)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestSyncRejectedOperations(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New()
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(bus.Stop)
	_, rejectedCh := bus.Subscribe(event.OperationRejectedEventType)
	o := newOrchestrator(t, db, chain, func(cfg *ledgersync.Config) {
		cfg.EventBus = bus
	})

	id := testutil.NewIdentity(t)
	first := id.Update(id.Create, testutil.AddService("svc0", "https://a.example"))
	second := id.Update(first, testutil.AddService("svc1", "https://b.example"))
	// The second update arrives before its predecessor and is skipped
	chain.AddBlock(protocolTx(t, id.Create))
	chain.AddBlock(
		protocolTx(t, second),
		metadataTx(`{"content":["0xzz"],"version":1}`),
		metadataTx(`{"content":["0x0a020102"],"version":1}`),
	)
	chain.AddBlock(protocolTx(t, first))

	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 3)
	assert.Equal(t, 2, steps[1].Rejected)
	assert.Zero(t, steps[2].Rejected)

	rejected := testutil.RequireReceive(t, rejectedCh, time.Second, "rejected update").Data.(event.OperationRejectedEvent)
	assert.ErrorIs(t, rejected.Err, did.ErrPreviousOperationNotFound)
	assert.Equal(t, id.Suffix, rejected.DidSuffix)
	assert.Equal(t, testutil.OperationHash(second), rejected.OperationHash)
	malformed := testutil.RequireReceive(t, rejectedCh, time.Second, "malformed payload").Data.(event.OperationRejectedEvent)
	assert.True(t, did.IsMalformed(malformed.Err))
	assert.Equal(t, -1, malformed.OpIndex)
	testutil.RequireNoReceive(t, rejectedCh, 50*time.Millisecond, "legacy payload")

	doc := resolve(t, db, id.Suffix)
	assert.Equal(t, testutil.OperationHash(first), doc.VersionHex())
	require.Len(t, doc.Services, 1)

	// All three transactions of the second block are recorded
	block, err := db.BlockByHeight(ledgerID(t, db), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), block.TxCount)
}

func TestSyncRecordsOutputs(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New()
	o := newOrchestrator(t, db, chain)
	address := testutil.Address(t, 3, 4)
	tx, err := memory.ProtocolTx(
		[]protocol.SignedOperation{testutil.NewIdentity(t).Create},
		provider.Output{Address: address, Value: 1000000, Index: 0},
		provider.Output{Address: "not-an-address", Value: 5, Index: 1},
	)
	require.NoError(t, err)
	chain.AddBlock(tx)
	syncUntilIdle(t, o)

	wallet, err := db.WalletAddress(address, nil)
	require.NoError(t, err)
	assert.NotNil(t, wallet.StakeAddressID)
	_, err = db.WalletAddress("not-an-address", nil)
	assert.ErrorIs(t, err, models.ErrAddressNotFound)
	deleted, err := db.DeleteOrphanedAddresses(nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSyncForkMark(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New()
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(bus.Stop)
	_, rollbackCh := bus.Subscribe(event.RollbackEventType)
	o := newOrchestrator(t, db, chain, func(cfg *ledgersync.Config) {
		cfg.EventBus = bus
		cfg.RollbackBatch = 1
	})
	idA := testutil.NewIdentity(t)
	idB := testutil.NewIdentity(t)
	updateA := idA.Update(idA.Create, testutil.AddService("svc0", "https://a.example"))
	chain.AddEmptyBlocks(2)
	chain.AddBlock(protocolTx(t, idA.Create))
	chain.AddEmptyBlocks(1)
	forked := chain.AddBlock(protocolTx(t, updateA))
	syncUntilIdle(t, o)

	chain.Rollback(3)
	replacement := chain.AddBlock(protocolTx(t, idB.Create))
	chain.AddEmptyBlocks(2)

	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].RolledBack)
	assert.Equal(t, replacement.Height, steps[1].Applied.Height)

	rollback := testutil.RequireReceive(t, rollbackCh, time.Second, "rollback").Data.(event.RollbackEvent)
	assert.Equal(t, uint64(3), rollback.AncestorHeight)
	assert.Equal(t, forked.Height, rollback.TipHeight)
	assert.Equal(t, string(ledgersync.ForkPolicyMark), rollback.Policy)

	_, err := db.BlockByHeight(ledgerID(t, db), forked.Height, nil)
	assert.ErrorIs(t, err, models.ErrBlockNotFound)
	var forkCount int64
	txn := db.Transaction(false)
	require.NoError(t, txn.Metadata().Model(&models.Block{}).Where("is_fork = ?", true).Count(&forkCount).Error)
	txn.Release()
	assert.Equal(t, int64(1), forkCount)

	assert.Equal(t, testutil.OperationHash(idA.Create), resolve(t, db, idA.Suffix).VersionHex())
	assert.Equal(t, idB.Suffix, resolve(t, db, idB.Suffix).Suffix)
	_, err = db.OperationByHash(signing.Hash(updateA.Operation), nil)
	assert.Error(t, err)
}

func TestSyncForkDelete(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New(memory.WithEpochLength(2))
	o := newOrchestrator(t, db, chain, func(cfg *ledgersync.Config) {
		cfg.ForkPolicy = ledgersync.ForkPolicyDelete
	})
	id := testutil.NewIdentity(t)
	chain.AddEmptyBlocks(2)
	chain.AddBlock(protocolTx(t, id.Create))
	chain.AddEmptyBlocks(1)
	forked := chain.AddBlock(protocolTx(t, id.Deactivate(id.Create)))
	syncUntilIdle(t, o)
	assert.Equal(t, did.StatusDeactivated, resolve(t, db, id.Suffix).Status())

	chain.Rollback(4)
	chain.AddEmptyBlocks(3)
	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].RolledBack)

	_, err := db.Epoch(ledgerID(t, db), forked.Epoch, nil)
	assert.ErrorIs(t, err, models.ErrEpochNotFound)
	var blockCount int64
	txn := db.Transaction(false)
	require.NoError(t, txn.Metadata().Model(&models.Block{}).Count(&blockCount).Error)
	txn.Release()
	assert.Equal(t, int64(1), blockCount)
	assert.Equal(t, did.StatusActive, resolve(t, db, id.Suffix).Status())
}

func TestSyncConfirmations(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New()
	o := newOrchestrator(t, db, chain, func(cfg *ledgersync.Config) {
		cfg.Confirmations = 3
	})
	chain.AddBlock(protocolTx(t, testutil.NewIdentity(t).Create))
	chain.AddEmptyBlocks(2)
	assert.Empty(t, syncUntilIdle(t, o))
	chain.AddEmptyBlocks(1)
	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 1)
	assert.Equal(t, uint64(1), steps[0].Applied.Height)
}

func TestSyncStartEpoch(t *testing.T) {
	db := newTestDatabase(t)
	chain := memory.New(memory.WithEpochLength(5))
	startEpoch := uint64(1)
	o := newOrchestrator(t, db, chain, func(cfg *ledgersync.Config) {
		cfg.StartEpoch = &startEpoch
	})
	chain.AddBlock(protocolTx(t, testutil.NewIdentity(t).Create))
	chain.AddEmptyBlocks(4)
	// Epoch 1 has not started yet
	assert.Empty(t, syncUntilIdle(t, o))
	chain.AddBlock(protocolTx(t, testutil.NewIdentity(t).Create))
	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 1)
	assert.Equal(t, uint64(6), steps[0].Applied.Height)
	_, err := db.BlockByHeight(ledgerID(t, db), 1, nil)
	assert.ErrorIs(t, err, models.ErrBlockNotFound)
}

// failingProvider fails payment data lookups while fail is set
type failingProvider struct {
	*memory.Chain
	fail atomic.Bool
}

var errUnavailable = errors.New("provider unavailable")

func (p *failingProvider) GetPaymentData(
	ctx context.Context,
	txID string,
) (*provider.PaymentData, error) {
	if p.fail.Load() {
		return nil, errUnavailable
	}
	return p.Chain.GetPaymentData(ctx, txID)
}

func TestSyncInfrastructureFailure(t *testing.T) {
	db := newTestDatabase(t)
	prov := &failingProvider{Chain: memory.New()}
	o := newOrchestrator(t, db, prov)
	prov.AddBlock(protocolTx(t, testutil.NewIdentity(t).Create))
	prov.fail.Store(true)

	_, err := o.SyncOnce(context.Background())
	require.ErrorIs(t, err, errUnavailable)
	_, err = db.BlockLatest(ledgerID(t, db), nil)
	assert.ErrorIs(t, err, models.ErrBlockNotFound)

	prov.fail.Store(false)
	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 1)
	assert.Equal(t, uint64(1), steps[0].Applied.Height)
}

// nullMetadataProvider reports metadata stored as a JSON null as missing,
// the way db-sync keeps values it cannot render
type nullMetadataProvider struct {
	*memory.Chain
}

func (p *nullMetadataProvider) GetMetadataForTransaction(
	ctx context.Context,
	txID string,
	key uint64,
) (json.RawMessage, error) {
	ret, err := p.Chain.GetMetadataForTransaction(ctx, txID, key)
	if err == nil && string(ret) == "null" {
		return nil, provider.ErrNotFound
	}
	return ret, err
}

func TestSyncMissingMetadata(t *testing.T) {
	db := newTestDatabase(t)
	prov := &nullMetadataProvider{Chain: memory.New()}
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(bus.Stop)
	_, rejectedCh := bus.Subscribe(event.OperationRejectedEventType)
	o := newOrchestrator(t, db, prov, func(cfg *ledgersync.Config) {
		cfg.EventBus = bus
	})

	id := testutil.NewIdentity(t)
	prov.AddBlock(protocolTx(t, id.Create))
	prov.AddBlock(metadataTx("null"), protocolTx(t, id.Deactivate(id.Create)))

	steps := syncUntilIdle(t, o)
	require.Len(t, steps, 2)
	assert.Equal(t, uint64(2), steps[1].Applied.Height)
	assert.Equal(t, 1, steps[1].Rejected)

	rejected := testutil.RequireReceive(t, rejectedCh, time.Second, "missing metadata").Data.(event.OperationRejectedEvent)
	assert.True(t, did.IsMalformed(rejected.Err))
	assert.Equal(t, -1, rejected.OpIndex)
	assert.Equal(t, did.StatusDeactivated, resolve(t, db, id.Suffix).Status())

	// The transaction is recorded without an archived payload
	txs, err := db.TransactionsForBlock(steps[1].Applied.ID, nil)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	_, err = db.Payload(txs[0].Hash, nil)
	assert.ErrorIs(t, err, types.ErrBlobKeyNotFound)
	_, err = db.Payload(txs[1].Hash, nil)
	assert.NoError(t, err)
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(
		t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	defer db.Close()
	chain := memory.New()
	id := testutil.NewIdentity(t)
	chain.AddBlock(protocolTx(t, id.Create))
	o := newOrchestrator(t, db, chain)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- o.Run(ctx)
	}()
	testutil.WaitForCondition(t, func() bool {
		ops, err := db.OperationsForDID(id.Suffix, nil)
		return err == nil && len(ops) == 1
	}, 5*time.Second, "operation was not applied")
	chain.AddBlock(protocolTx(t, id.Deactivate(id.Create)))
	testutil.WaitForCondition(t, func() bool {
		ops, err := db.OperationsForDID(id.Suffix, nil)
		return err == nil && len(ops) == 2
	}, 5*time.Second, "deactivation was not applied")
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("sync loop did not stop")
	}
}

func TestParseForkPolicy(t *testing.T) {
	policy, err := ledgersync.ParseForkPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ledgersync.ForkPolicyMark, policy)
	policy, err = ledgersync.ParseForkPolicy("delete")
	require.NoError(t, err)
	assert.Equal(t, ledgersync.ForkPolicyDelete, policy)
	_, err = ledgersync.ParseForkPolicy("ignore")
	assert.ErrorIs(t, err, ledgersync.ErrInvalidForkPolicy)
}
