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

package ledgersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/prism/codec"
	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/database/types"
	"github.com/blinklabs-io/prism/did"
	"github.com/blinklabs-io/prism/event"
	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/provider"
)

// blockTx is a protocol transaction with everything fetched from the
// provider that applying it needs
type blockTx struct {
	decodeErr error
	payment   *provider.PaymentData
	payload   json.RawMessage
	ops       []protocol.SignedOperation
	tx        provider.Transaction
}

type blockOutcome struct {
	applied  []event.OperationAppliedEvent
	rejected []event.OperationRejectedEvent
}

// fetchBlock loads the protocol transactions of a block. Nothing is
// written, so the store transaction is not held during provider calls.
func (o *Orchestrator) fetchBlock(
	ctx context.Context,
	block *provider.Block,
) ([]blockTx, error) {
	txs, err := o.config.Provider.GetTransactionsWithProtocolMetadata(ctx, block.ID)
	if err != nil {
		return nil, fmt.Errorf("get transactions of block %s: %w", block.ID, err)
	}
	ret := make([]blockTx, 0, len(txs))
	for _, tx := range txs {
		payload, err := o.config.Provider.GetMetadataForTransaction(
			ctx,
			tx.ID,
			provider.ProtocolMetadataKey,
		)
		var decodeErr error
		if err != nil {
			if !errors.Is(err, provider.ErrNotFound) {
				return nil, fmt.Errorf("get metadata of transaction %x: %w", tx.Hash, err)
			}
			// db-sync keeps metadata it cannot render as JSON as NULL
			payload = nil
			decodeErr = fmt.Errorf("%w: metadata is not retrievable", codec.ErrMalformedWire)
		}
		payment, err := o.config.Provider.GetPaymentData(ctx, tx.ID)
		if err != nil {
			if !errors.Is(err, provider.ErrNotFound) {
				return nil, fmt.Errorf("get payment data of transaction %x: %w", tx.Hash, err)
			}
			payment = &provider.PaymentData{}
		}
		var ops []protocol.SignedOperation
		if decodeErr == nil {
			ops, decodeErr = codec.DecodeJSON(payload)
		}
		ret = append(ret, blockTx{
			tx:        tx,
			payload:   payload,
			payment:   payment,
			ops:       ops,
			decodeErr: decodeErr,
		})
	}
	return ret, nil
}

// applyBlock stores a block with its transactions and applies their
// operations. Everything, including the checkpoint advance, is committed in
// one transaction.
func (o *Orchestrator) applyBlock(
	ctx context.Context,
	block *provider.Block,
) (*Progress, error) {
	start := time.Now()
	txs, err := o.fetchBlock(ctx, block)
	if err != nil {
		return nil, err
	}
	var stored *models.Block
	var outcome blockOutcome
	err = o.db.Update(func(txn *database.Txn) error {
		outcome = blockOutcome{}
		epoch, err := o.db.EpochCreate(o.ledger.ID, block.Epoch, txn)
		if err != nil {
			return fmt.Errorf("create epoch %d: %w", block.Epoch, err)
		}
		stored, err = o.db.BlockCreate(
			&models.Block{
				LedgerID:   o.ledger.ID,
				EpochID:    epoch.ID,
				Height:     block.Height,
				Hash:       block.Hash,
				PrevHeight: block.PrevHeight(),
				PrevHash:   block.PrevHash,
				Slot:       block.Slot,
				Time:       block.Time,
				TxCount:    block.TxCount,
			},
			txn,
		)
		if err != nil {
			return fmt.Errorf("create block at height %d: %w", block.Height, err)
		}
		for _, tx := range txs {
			if err := o.applyTransaction(ctx, txn, block, stored, tx, &outcome); err != nil {
				return err
			}
		}
		return o.db.LedgerSetLastSynced(o.ledger.ID, time.Now(), txn)
	})
	if err != nil {
		return nil, err
	}
	o.metrics.applyDuration.Observe(time.Since(start).Seconds())
	o.metrics.blocksApplied.Inc()
	o.metrics.checkpointHeight.Set(float64(block.Height))
	for _, applied := range outcome.applied {
		o.metrics.operationsApplied.WithLabelValues(applied.Type).Inc()
		o.publish(event.OperationAppliedEventType, applied)
	}
	for _, rejected := range outcome.rejected {
		o.metrics.operationsRejected.WithLabelValues(did.Kind(rejected.Err)).Inc()
		o.publish(event.OperationRejectedEventType, rejected)
	}
	o.logger.Info(
		"applied block",
		"height", block.Height,
		"hash", block.ID,
		"transactions", len(txs),
		"operations", len(outcome.applied),
		"rejected", len(outcome.rejected),
	)
	o.publish(event.BlockAppliedEventType, event.BlockAppliedEvent{
		Network:      o.ledger.Network,
		Hash:         block.Hash,
		Height:       block.Height,
		Slot:         block.Slot,
		Epoch:        block.Epoch,
		Transactions: len(txs),
		Operations:   len(outcome.applied),
		Rejected:     len(outcome.rejected),
	})
	return &Progress{Applied: stored, Rejected: len(outcome.rejected)}, nil
}

func (o *Orchestrator) applyTransaction(
	ctx context.Context,
	txn *database.Txn,
	block *provider.Block,
	stored *models.Block,
	tx blockTx,
	outcome *blockOutcome,
) error {
	tmpTx := models.Transaction{
		BlockID:    stored.ID,
		Hash:       tx.tx.Hash,
		Height:     block.Height,
		Size:       tx.tx.Size,
		Fee:        types.Uint64(tx.tx.Fee),
		BlockIndex: tx.tx.BlockIndex,
	}
	if err := o.db.TransactionCreate(&tmpTx, txn); err != nil {
		return fmt.Errorf("create transaction %x: %w", tx.tx.Hash, err)
	}
	if tx.payload != nil {
		if err := o.db.PayloadSet(tx.tx.Hash, tx.payload, txn); err != nil {
			return fmt.Errorf("store payload of transaction %x: %w", tx.tx.Hash, err)
		}
	}
	for _, output := range tx.payment.Outputs {
		walletId, err := o.db.WalletAddressGetOrCreate(output.Address, txn)
		if err != nil {
			if errors.Is(err, database.ErrInvalidAddress) {
				o.logger.Debug(
					"skipping output with unsupported address",
					"tx_hash", fmt.Sprintf("%x", tx.tx.Hash),
					"index", output.Index,
					"error", err,
				)
				continue
			}
			return fmt.Errorf("store address of transaction %x: %w", tx.tx.Hash, err)
		}
		err = o.db.UtxoCreate(
			&models.Utxo{
				TransactionID:   tmpTx.ID,
				WalletAddressID: walletId,
				OutputIndex:     output.Index,
				Value:           types.Uint64(output.Value),
			},
			txn,
		)
		if err != nil {
			return fmt.Errorf("store output of transaction %x: %w", tx.tx.Hash, err)
		}
	}
	if tx.decodeErr != nil {
		if errors.Is(tx.decodeErr, codec.ErrEmptyBlock) {
			o.logger.Debug(
				"skipping transaction in legacy format",
				"tx_hash", fmt.Sprintf("%x", tx.tx.Hash),
			)
			return nil
		}
		o.reject(outcome, block, tx, -1, nil, fmt.Errorf("%w: %w", did.ErrInvalidOperation, tx.decodeErr))
		return nil
	}
	store := o.db.DIDStore(txn)
	for i, signed := range tx.ops {
		res, err := o.config.Processor.Process(
			ctx,
			store,
			signed,
			did.Position{
				BlockHeight: block.Height,
				TxIndex:     tx.tx.BlockIndex,
				OpIndex:     uint32(i), //nolint:gosec
				Time:        block.Time,
			},
		)
		if err != nil {
			if did.IsRejection(err) {
				o.reject(outcome, block, tx, i, &signed, err)
				continue
			}
			return fmt.Errorf("process operation %d of transaction %x: %w", i, tx.tx.Hash, err)
		}
		if res.Replayed {
			continue
		}
		row := database.OperationModel(tmpTx.ID, res.Operation)
		if err := o.db.OperationCreate(&row, txn); err != nil {
			return fmt.Errorf("store operation %s: %w", res.Operation.HashHex(), err)
		}
		outcome.applied = append(outcome.applied, event.OperationAppliedEvent{
			Network:       o.ledger.Network,
			DID:           res.Document.ID,
			OperationHash: res.Operation.HashHex(),
			Type:          res.Operation.Type.String(),
			BlockHeight:   block.Height,
		})
	}
	return nil
}

// reject records an operation that is skipped. opIndex is negative when the
// whole transaction could not be decoded.
func (o *Orchestrator) reject(
	outcome *blockOutcome,
	block *provider.Block,
	tx blockTx,
	opIndex int,
	signed *protocol.SignedOperation,
	err error,
) {
	rejected := event.OperationRejectedEvent{
		Err:         err,
		Network:     o.ledger.Network,
		Reason:      err.Error(),
		TxHash:      tx.tx.Hash,
		BlockHeight: block.Height,
		OpIndex:     opIndex,
	}
	if signed != nil {
		rejected.OperationHash = fmt.Sprintf("%x", o.config.Processor.Hash(*signed))
		if op, decodeErr := signed.Decode(); decodeErr == nil {
			rejected.DidSuffix = op.DidSuffix()
			if op.Type() == protocol.OperationTypeCreate {
				rejected.DidSuffix = rejected.OperationHash
			}
		}
	}
	o.logger.Warn(
		"rejected operation",
		"height", block.Height,
		"tx_hash", fmt.Sprintf("%x", tx.tx.Hash),
		"op_index", opIndex,
		"kind", did.Kind(err),
		"error", err,
	)
	outcome.rejected = append(outcome.rejected, rejected)
}
