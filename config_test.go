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

package prism

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/ledgersync"
	"github.com/blinklabs-io/prism/provider/memory"
)

func TestConfigValidate(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	chain := memory.New()
	testDefs := []struct {
		name    string
		opts    []ConfigOptionFunc
		wantErr string
	}{
		{
			name:    "no database",
			opts:    []ConfigOptionFunc{WithLedger("preprod", chain)},
			wantErr: "no database configured",
		},
		{
			name:    "no ledgers",
			opts:    []ConfigOptionFunc{WithDatabase(db)},
			wantErr: "no ledgers configured",
		},
		{
			name: "unknown network",
			opts: []ConfigOptionFunc{
				WithDatabase(db),
				WithLedger("atlantis", chain),
			},
			wantErr: "unknown network name: atlantis",
		},
		{
			name: "duplicate network",
			opts: []ConfigOptionFunc{
				WithDatabase(db),
				WithLedger("preprod", chain),
				WithLedger("PreProd", memory.New()),
			},
			wantErr: "network configured more than once",
		},
		{
			name: "no provider",
			opts: []ConfigOptionFunc{
				WithDatabase(db),
				WithLedger("preprod", nil),
			},
			wantErr: "no provider for network preprod",
		},
		{
			name: "fork policy",
			opts: []ConfigOptionFunc{
				WithDatabase(db),
				WithLedger("preprod", chain),
				WithForkPolicy("ignore"),
			},
			wantErr: "invalid fork policy",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			cfg := NewConfig(testDef.opts...)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), testDef.wantErr)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	cfg := NewConfig(
		WithDatabase(db),
		WithLedger("preprod", memory.New()),
		WithLedger("preview", memory.New()),
		WithStartEpoch("preview", 12),
		WithForkPolicy(ledgersync.ForkPolicyDelete),
	)
	require.NoError(t, cfg.validate())
	assert.Equal(t, DefaultRetryInitialInterval, cfg.retryInitialInterval)
	assert.Equal(t, DefaultRetryMaxInterval, cfg.retryMaxInterval)
	assert.Equal(t, DefaultShutdownTimeout, cfg.shutdownTimeout)
	assert.NotNil(t, cfg.logger)
	assert.Nil(t, cfg.ledgers[0].StartEpoch)
	require.NotNil(t, cfg.ledgers[1].StartEpoch)
	assert.Equal(t, uint64(12), *cfg.ledgers[1].StartEpoch)

	cfg = NewConfig(
		WithDatabase(db),
		WithLedger("preprod", memory.New()),
		WithRetryInterval(10*time.Minute, time.Second),
	)
	require.NoError(t, cfg.validate())
	assert.Equal(t, 10*time.Minute, cfg.retryMaxInterval)
}
