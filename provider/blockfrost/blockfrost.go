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

// Package blockfrost reads ledger data from the Blockfrost REST API
package blockfrost

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/blinklabs-io/prism/provider"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultBaseURL      = "https://cardano-mainnet.blockfrost.io/api/v0"
	DefaultPageSize     = 100
	DefaultRetryMax     = 4
	DefaultRetryWaitMin = 500 * time.Millisecond
	DefaultRetryWaitMax = 10 * time.Second
	requestTimeout      = 30 * time.Second
	lovelaceUnit        = "lovelace"
)

// labelCursor remembers the page of the protocol label listing where the
// last search for the next block ended
type labelCursor struct {
	page   int
	height uint64
}

// Provider serves ledger data from Blockfrost. Block and transaction IDs
// are hex encoded hashes.
type Provider struct {
	client       *retryablehttp.Client
	httpClient   *http.Client
	logger       *slog.Logger
	baseURL      string
	projectID    string
	cursor       labelCursor
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	pageSize     int
	cursorMutex  sync.Mutex
}

var _ provider.Provider = (*Provider)(nil)

// New returns a Blockfrost provider
func New(opts ...ProviderOptionFunc) (*Provider, error) {
	p := &Provider{
		baseURL:      DefaultBaseURL,
		pageSize:     DefaultPageSize,
		retryMax:     DefaultRetryMax,
		retryWaitMin: DefaultRetryWaitMin,
		retryWaitMax: DefaultRetryWaitMax,
		cursor:       labelCursor{page: 1},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if _, err := url.Parse(p.baseURL); err != nil {
		return nil, fmt.Errorf("blockfrost: invalid base URL: %w", err)
	}
	if p.pageSize < 1 || p.pageSize > DefaultPageSize {
		p.pageSize = DefaultPageSize
	}
	client := retryablehttp.NewClient()
	if p.httpClient != nil {
		client.HTTPClient = p.httpClient
	} else {
		client.HTTPClient.Timeout = requestTimeout
	}
	client.RetryMax = p.retryMax
	client.RetryWaitMin = p.retryWaitMin
	client.RetryWaitMax = p.retryWaitMax
	client.Logger = p.logger.With("component", "blockfrost")
	p.client = client
	return p, nil
}

// get decodes the JSON response of a GET request into dst. A 404 response
// is returned as provider.ErrNotFound.
func (p *Provider) get(
	ctx context.Context,
	path string,
	query url.Values,
	dst any,
) error {
	reqUrl := p.baseURL + path
	if len(query) > 0 {
		reqUrl += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return fmt.Errorf("blockfrost: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.projectID != "" {
		req.Header.Set("project_id", p.projectID)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("blockfrost: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return provider.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
			return fmt.Errorf(
				"blockfrost: GET %s: %s: %s",
				path,
				resp.Status,
				errResp.Message,
			)
		}
		return fmt.Errorf("blockfrost: GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("blockfrost: decode %s: %w", path, err)
	}
	return nil
}

func (p *Provider) page(page int) url.Values {
	return url.Values{
		"order": []string{"asc"},
		"count": []string{strconv.Itoa(p.pageSize)},
		"page":  []string{strconv.Itoa(page)},
	}
}

func toBlock(resp *BlockResponse) (*provider.Block, error) {
	// Epoch boundary blocks have no height
	if resp.Height == nil {
		return nil, provider.ErrNotFound
	}
	hash, err := hex.DecodeString(resp.Hash)
	if err != nil {
		return nil, fmt.Errorf("blockfrost: invalid block hash %q: %w", resp.Hash, err)
	}
	var prevHash []byte
	if resp.PreviousBlock != nil {
		prevHash, err = hex.DecodeString(*resp.PreviousBlock)
		if err != nil {
			return nil, fmt.Errorf(
				"blockfrost: invalid block hash %q: %w",
				*resp.PreviousBlock,
				err,
			)
		}
	}
	return &provider.Block{
		Time:     time.Unix(resp.Time, 0).UTC(),
		ID:       resp.Hash,
		Hash:     hash,
		PrevHash: prevHash,
		Height:   *resp.Height,
		Slot:     resp.Slot,
		Epoch:    resp.Epoch,
		TxCount:  uint32(resp.TxCount), //nolint:gosec
	}, nil
}

func (p *Provider) getBlock(ctx context.Context, hashOrNumber string) (*provider.Block, error) {
	var resp BlockResponse
	if err := p.get(ctx, "/blocks/"+url.PathEscape(hashOrNumber), nil, &resp); err != nil {
		return nil, err
	}
	return toBlock(&resp)
}

func (p *Provider) GetTip(ctx context.Context) (*provider.Block, error) {
	return p.getBlock(ctx, "latest")
}

func (p *Provider) GetBlockByHeight(
	ctx context.Context,
	height uint64,
) (*provider.Block, error) {
	return p.getBlock(ctx, strconv.FormatUint(height, 10))
}

func (p *Provider) GetBlockByID(
	ctx context.Context,
	id string,
) (*provider.Block, error) {
	if _, err := hex.DecodeString(id); err != nil || id == "" {
		return nil, provider.ErrNotFound
	}
	return p.getBlock(ctx, id)
}

func (p *Provider) GetBlocksByHeights(
	ctx context.Context,
	heights []uint64,
) ([]provider.Block, error) {
	ret := make([]provider.Block, 0, len(heights))
	seen := make(map[uint64]bool, len(heights))
	for _, height := range heights {
		if seen[height] {
			continue
		}
		seen[height] = true
		block, err := p.GetBlockByHeight(ctx, height)
		if err != nil {
			if errors.Is(err, provider.ErrNotFound) {
				continue
			}
			return nil, err
		}
		ret = append(ret, *block)
	}
	sortBlocks(ret)
	return ret, nil
}

func (p *Provider) GetFirstBlockOfEpoch(
	ctx context.Context,
	epoch uint64,
) (*provider.Block, error) {
	var hashes []string
	query := url.Values{
		"order": []string{"asc"},
		"count": []string{"1"},
		"page":  []string{"1"},
	}
	path := "/epochs/" + strconv.FormatUint(epoch, 10) + "/blocks"
	if err := p.get(ctx, path, query, &hashes); err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, provider.ErrNotFound
	}
	return p.getBlock(ctx, hashes[0])
}

func (p *Provider) getTransaction(
	ctx context.Context,
	txID string,
) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := p.get(ctx, "/txs/"+url.PathEscape(txID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetNextBlockWithProtocolMetadata walks the listing of transactions with
// the protocol label. The listing has no height filter, so the page where
// the previous search ended is remembered and reused while heights only
// move forward.
func (p *Provider) GetNextBlockWithProtocolMetadata(
	ctx context.Context,
	afterHeight uint64,
) (*provider.Block, error) {
	p.cursorMutex.Lock()
	defer p.cursorMutex.Unlock()
	if afterHeight < p.cursor.height {
		p.cursor = labelCursor{page: 1}
	}
	path := "/metadata/txs/labels/" + strconv.FormatUint(provider.ProtocolMetadataKey, 10)
	for page := p.cursor.page; ; page++ {
		var txs []LabelTransactionResponse
		if err := p.get(ctx, path, p.page(page), &txs); err != nil {
			return nil, err
		}
		for i, labelTx := range txs {
			tx, err := p.getTransaction(ctx, labelTx.TxHash)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				p.cursor = labelCursor{page: page, height: tx.BlockHeight}
			}
			if tx.BlockHeight > afterHeight {
				return p.getBlock(ctx, tx.Block)
			}
		}
		if len(txs) < p.pageSize {
			return nil, provider.ErrNotFound
		}
	}
}

func (p *Provider) GetMetadataForTransaction(
	ctx context.Context,
	txID string,
	key uint64,
) (json.RawMessage, error) {
	var items []TransactionMetadataResponse
	if err := p.get(ctx, "/txs/"+url.PathEscape(txID)+"/metadata", nil, &items); err != nil {
		return nil, err
	}
	label := strconv.FormatUint(key, 10)
	for _, item := range items {
		if item.Label == label {
			return item.JSONMetadata, nil
		}
	}
	return nil, provider.ErrNotFound
}

func (p *Provider) GetPaymentData(
	ctx context.Context,
	txID string,
) (*provider.PaymentData, error) {
	var resp TransactionUtxosResponse
	if err := p.get(ctx, "/txs/"+url.PathEscape(txID)+"/utxos", nil, &resp); err != nil {
		return nil, err
	}
	ret := &provider.PaymentData{
		Outputs: make([]provider.Output, 0, len(resp.Outputs)),
	}
	for _, output := range resp.Outputs {
		var value uint64
		for _, amount := range output.Amount {
			if amount.Unit != lovelaceUnit {
				continue
			}
			tmpValue, err := strconv.ParseUint(amount.Quantity, 10, 64)
			if err != nil {
				return nil, fmt.Errorf(
					"blockfrost: invalid lovelace quantity %q: %w",
					amount.Quantity,
					err,
				)
			}
			value = tmpValue
		}
		ret.Outputs = append(ret.Outputs, provider.Output{
			Address: output.Address,
			Value:   value,
			Index:   output.OutputIndex,
		})
	}
	return ret, nil
}

func (p *Provider) GetTransactionsWithProtocolMetadata(
	ctx context.Context,
	blockID string,
) ([]provider.Transaction, error) {
	block, err := p.GetBlockByID(ctx, blockID)
	if err != nil {
		return nil, err
	}
	var ret []provider.Transaction
	path := "/blocks/" + url.PathEscape(blockID) + "/txs"
	for page := 1; ; page++ {
		var hashes []string
		if err := p.get(ctx, path, p.page(page), &hashes); err != nil {
			return nil, err
		}
		for _, txHash := range hashes {
			_, err := p.GetMetadataForTransaction(ctx, txHash, provider.ProtocolMetadataKey)
			if err != nil {
				if errors.Is(err, provider.ErrNotFound) {
					continue
				}
				return nil, err
			}
			tx, err := p.getTransaction(ctx, txHash)
			if err != nil {
				return nil, err
			}
			hash, err := hex.DecodeString(tx.Hash)
			if err != nil {
				return nil, fmt.Errorf("blockfrost: invalid transaction hash %q: %w", tx.Hash, err)
			}
			fee, err := strconv.ParseUint(tx.Fees, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("blockfrost: invalid fees %q: %w", tx.Fees, err)
			}
			ret = append(ret, provider.Transaction{
				ID:         tx.Hash,
				Hash:       hash,
				BlockID:    blockID,
				Height:     block.Height,
				Size:       tx.Size,
				Fee:        fee,
				BlockIndex: tx.Index,
			})
		}
		if len(hashes) < p.pageSize {
			break
		}
	}
	sortTransactions(ret)
	return ret, nil
}
