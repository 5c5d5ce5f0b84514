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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/prism/codec"
	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/internal/config"
	"github.com/blinklabs-io/prism/internal/node"
	"github.com/blinklabs-io/prism/internal/test/testutil"
	"github.com/blinklabs-io/prism/ledgersync"
	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/provider/memory"
)

func runCommand(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx := context.Background()
	if cfg != nil {
		ctx = config.WithContext(ctx, cfg)
	}
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, programName+" devel")
}

func TestDecodeCommand(t *testing.T) {
	id := testutil.NewIdentity(t)
	update := id.Update(id.Create, testutil.AddService("svc0", "https://a.example"))
	payload, err := codec.EncodeJSON([]protocol.SignedOperation{id.Create, update})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	out, err := runCommand(t, nil, "decode", path)
	require.NoError(t, err)
	var views []operationView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, testutil.OperationHash(id.Create), views[0].Hash)
	assert.Equal(t, "create", views[0].Type)
	assert.Equal(t, id.Suffix, views[0].DidSuffix)
	assert.Equal(t, "update", views[1].Type)
	assert.Equal(t, id.Suffix, views[1].DidSuffix)

	require.NoError(t, os.WriteFile(path, []byte(`{"content":[],"version":2}`), 0o600))
	_, err = runCommand(t, nil, "decode", path)
	assert.ErrorIs(t, err, codec.ErrUnsupportedVersion)
}

func TestAdminCommands(t *testing.T) {
	cfg := &config.Config{DatabasePath: t.TempDir()}

	out, err := runCommand(t, cfg, "ledger", "create", "Preview")
	require.NoError(t, err)
	assert.Contains(t, out, "ledger preview")

	out, err = runCommand(t, cfg, "ledger", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "preview\tnever")

	_, err = runCommand(t, cfg, "epoch", "delete", "preview", "3")
	assert.ErrorIs(t, err, models.ErrEpochNotFound)

	_, err = runCommand(t, cfg, "epoch", "delete", "preview", "three")
	assert.ErrorContains(t, err, "invalid epoch")

	_, err = runCommand(t, cfg, "tx", "delete", "preview", "10", "abcd1234")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)

	out, err = runCommand(t, cfg, "addresses", "gc")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 addresses")

	out, err = runCommand(t, cfg, "ledger", "delete", "preview")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted ledger preview")

	_, err = runCommand(t, cfg, "ledger", "delete", "preview")
	assert.ErrorIs(t, err, models.ErrLedgerNotFound)
}

func TestResolveCommand(t *testing.T) {
	cfg := &config.Config{DatabasePath: t.TempDir()}
	id := testutil.NewIdentity(
		t,
		protocol.Service{ID: "svc0", Type: "LinkedDomains", Endpoint: "https://a.example"},
	)

	// Index the create operation, then close the database for the command
	db, err := node.OpenDatabase(cfg, nil, nil)
	require.NoError(t, err)
	chain := memory.New()
	tx, err := memory.ProtocolTx([]protocol.SignedOperation{id.Create})
	require.NoError(t, err)
	chain.AddBlock(tx)
	o, err := ledgersync.New(ledgersync.Config{
		Database: db,
		Provider: chain,
		Network:  "preview",
	})
	require.NoError(t, err)
	for {
		progress, err := o.SyncOnce(context.Background())
		require.NoError(t, err)
		if progress.Idle {
			break
		}
	}
	require.NoError(t, db.Close())

	out, err := runCommand(t, cfg, "resolve", "did:prism:"+id.Suffix)
	require.NoError(t, err)
	var view resolutionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "did:prism:"+id.Suffix, view.ID)
	assert.Equal(t, "active", view.Status)
	assert.True(t, view.Published)
	assert.Equal(t, testutil.OperationHash(id.Create), view.Version)
	require.Len(t, view.Services, 1)
	assert.Equal(t, "https://a.example", view.Services[0].Endpoint)
	assert.NotNil(t, view.Created)

	_, err = runCommand(t, cfg, "resolve", "did:prism:"+id.Suffix, "--version", "zz")
	assert.ErrorContains(t, err, "invalid version")

	_, err = runCommand(t, cfg, "resolve", "did:web:example.com")
	assert.Error(t, err)
}
