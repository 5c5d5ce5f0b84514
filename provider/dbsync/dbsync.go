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

// Package dbsync reads ledger data from a cardano-db-sync database
package dbsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/blinklabs-io/prism/provider"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	driverName          = "pgx"
	defaultMaxOpenConns = 4
)

// Blocks without a block number belong to the Byron epoch boundary or are
// not yet settled, so every query excludes them
const blockColumns = `
	b.id, b.hash, b.epoch_no, b.slot_no, b.block_no, b.time, b.tx_count,
	p.hash AS prev_hash
	FROM block b
	LEFT JOIN block p ON p.id = b.previous_id`

const (
	queryTip = `SELECT` + blockColumns + `
	WHERE b.block_no IS NOT NULL
	ORDER BY b.block_no DESC
	LIMIT 1`

	queryBlockByHeight = `SELECT` + blockColumns + `
	WHERE b.block_no = ?`

	queryBlockByID = `SELECT` + blockColumns + `
	WHERE b.id = ? AND b.block_no IS NOT NULL`

	queryBlocksByHeights = `SELECT` + blockColumns + `
	WHERE b.block_no IN (?)
	ORDER BY b.block_no`

	queryFirstBlockOfEpoch = `SELECT` + blockColumns + `
	WHERE b.epoch_no = ? AND b.block_no IS NOT NULL
	ORDER BY b.block_no
	LIMIT 1`

	queryNextBlockWithMetadata = `SELECT` + blockColumns + `
	WHERE b.id = (
		SELECT tx.block_id
		FROM tx_metadata m
		JOIN tx ON tx.id = m.tx_id
		JOIN block mb ON mb.id = tx.block_id
		WHERE m.key = ? AND mb.block_no > ?
		ORDER BY mb.block_no
		LIMIT 1
	)`

	queryTransactionMetadata = `SELECT m.json
	FROM tx_metadata m
	WHERE m.tx_id = ? AND m.key = ?`

	queryTransactionOutputs = `SELECT o."index", o.address, o.value
	FROM tx_out o
	WHERE o.tx_id = ?
	ORDER BY o."index"`

	queryTransactionExists = `SELECT COUNT(*) FROM tx WHERE id = ?`

	queryTransactionsWithMetadata = `SELECT DISTINCT tx.id, tx.hash, tx.block_index, tx.size, tx.fee, b.block_no
	FROM tx
	JOIN tx_metadata m ON m.tx_id = tx.id
	JOIN block b ON b.id = tx.block_id
	WHERE tx.block_id = ? AND m.key = ? AND b.block_no IS NOT NULL
	ORDER BY tx.block_index`
)

type blockRow struct {
	Time     time.Time     `db:"time"`
	Hash     []byte        `db:"hash"`
	PrevHash []byte        `db:"prev_hash"`
	EpochNo  sql.NullInt64 `db:"epoch_no"`
	SlotNo   sql.NullInt64 `db:"slot_no"`
	BlockNo  sql.NullInt64 `db:"block_no"`
	ID       int64         `db:"id"`
	TxCount  int64         `db:"tx_count"`
}

func (r blockRow) toBlock() *provider.Block {
	return &provider.Block{
		Time:     r.Time.UTC(),
		ID:       strconv.FormatInt(r.ID, 10),
		Hash:     r.Hash,
		PrevHash: r.PrevHash,
		Height:   uint64(r.BlockNo.Int64), //nolint:gosec
		Slot:     uint64(r.SlotNo.Int64),  //nolint:gosec
		Epoch:    uint64(r.EpochNo.Int64), //nolint:gosec
		TxCount:  uint32(r.TxCount),       //nolint:gosec
	}
}

type transactionRow struct {
	Hash       []byte `db:"hash"`
	ID         int64  `db:"id"`
	BlockNo    int64  `db:"block_no"`
	Size       uint64 `db:"size"`
	Fee        uint64 `db:"fee"`
	BlockIndex uint32 `db:"block_index"`
}

type outputRow struct {
	Address string `db:"address"`
	Value   uint64 `db:"value"`
	Index   uint32 `db:"index"`
}

// Provider serves ledger data from the relational mirror maintained by
// cardano-db-sync
type Provider struct {
	db           *sqlx.DB
	logger       *slog.Logger
	dsn          string
	maxOpenConns int
	ownsDB       bool
}

var _ provider.Provider = (*Provider)(nil)

// New opens the db-sync database
func New(opts ...ProviderOptionFunc) (*Provider, error) {
	p := &Provider{
		maxOpenConns: defaultMaxOpenConns,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if p.db == nil {
		if p.dsn == "" {
			return nil, errors.New("dbsync: no DSN or database configured")
		}
		db, err := sqlx.Open(driverName, p.dsn)
		if err != nil {
			return nil, fmt.Errorf("dbsync: open database: %w", err)
		}
		db.SetMaxOpenConns(p.maxOpenConns)
		p.db = db
		p.ownsDB = true
	}
	return p, nil
}

// Close closes the database when it was opened by New
func (p *Provider) Close() error {
	if !p.ownsDB {
		return nil
	}
	return p.db.Close()
}

func (p *Provider) getBlock(
	ctx context.Context,
	query string,
	args ...any,
) (*provider.Block, error) {
	var row blockRow
	if err := p.db.GetContext(ctx, &row, p.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, provider.ErrNotFound
		}
		return nil, fmt.Errorf("dbsync: query block: %w", err)
	}
	if !row.BlockNo.Valid {
		return nil, provider.ErrNotFound
	}
	return row.toBlock(), nil
}

func (p *Provider) GetTip(ctx context.Context) (*provider.Block, error) {
	return p.getBlock(ctx, queryTip)
}

func (p *Provider) GetBlockByHeight(
	ctx context.Context,
	height uint64,
) (*provider.Block, error) {
	return p.getBlock(ctx, queryBlockByHeight, height)
}

func (p *Provider) GetBlockByID(
	ctx context.Context,
	id string,
) (*provider.Block, error) {
	blockId, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, provider.ErrNotFound
	}
	return p.getBlock(ctx, queryBlockByID, blockId)
}

func (p *Provider) GetBlocksByHeights(
	ctx context.Context,
	heights []uint64,
) ([]provider.Block, error) {
	if len(heights) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(queryBlocksByHeights, heights)
	if err != nil {
		return nil, fmt.Errorf("dbsync: build query: %w", err)
	}
	var rows []blockRow
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("dbsync: query blocks: %w", err)
	}
	ret := make([]provider.Block, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, *row.toBlock())
	}
	return ret, nil
}

func (p *Provider) GetFirstBlockOfEpoch(
	ctx context.Context,
	epoch uint64,
) (*provider.Block, error) {
	return p.getBlock(ctx, queryFirstBlockOfEpoch, epoch)
}

func (p *Provider) GetNextBlockWithProtocolMetadata(
	ctx context.Context,
	afterHeight uint64,
) (*provider.Block, error) {
	return p.getBlock(
		ctx,
		queryNextBlockWithMetadata,
		provider.ProtocolMetadataKey,
		afterHeight,
	)
}

func (p *Provider) GetMetadataForTransaction(
	ctx context.Context,
	txID string,
	key uint64,
) (json.RawMessage, error) {
	id, err := strconv.ParseInt(txID, 10, 64)
	if err != nil {
		return nil, provider.ErrNotFound
	}
	var value sql.NullString
	err = p.db.GetContext(ctx, &value, p.db.Rebind(queryTransactionMetadata), id, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, provider.ErrNotFound
		}
		return nil, fmt.Errorf("dbsync: query metadata: %w", err)
	}
	if !value.Valid {
		return nil, provider.ErrNotFound
	}
	return json.RawMessage(value.String), nil
}

func (p *Provider) GetPaymentData(
	ctx context.Context,
	txID string,
) (*provider.PaymentData, error) {
	id, err := strconv.ParseInt(txID, 10, 64)
	if err != nil {
		return nil, provider.ErrNotFound
	}
	var count int
	if err := p.db.GetContext(ctx, &count, p.db.Rebind(queryTransactionExists), id); err != nil {
		return nil, fmt.Errorf("dbsync: query transaction: %w", err)
	}
	if count == 0 {
		return nil, provider.ErrNotFound
	}
	var rows []outputRow
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(queryTransactionOutputs), id); err != nil {
		return nil, fmt.Errorf("dbsync: query outputs: %w", err)
	}
	ret := &provider.PaymentData{
		Outputs: make([]provider.Output, 0, len(rows)),
	}
	for _, row := range rows {
		ret.Outputs = append(ret.Outputs, provider.Output(row))
	}
	return ret, nil
}

func (p *Provider) GetTransactionsWithProtocolMetadata(
	ctx context.Context,
	blockID string,
) ([]provider.Transaction, error) {
	id, err := strconv.ParseInt(blockID, 10, 64)
	if err != nil {
		return nil, provider.ErrNotFound
	}
	var rows []transactionRow
	err = p.db.SelectContext(
		ctx,
		&rows,
		p.db.Rebind(queryTransactionsWithMetadata),
		id,
		provider.ProtocolMetadataKey,
	)
	if err != nil {
		return nil, fmt.Errorf("dbsync: query transactions: %w", err)
	}
	ret := make([]provider.Transaction, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, provider.Transaction{
			ID:         strconv.FormatInt(row.ID, 10),
			Hash:       row.Hash,
			BlockID:    blockID,
			Height:     uint64(row.BlockNo), //nolint:gosec
			Size:       row.Size,
			Fee:        row.Fee,
			BlockIndex: row.BlockIndex,
		})
	}
	return ret, nil
}
