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

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prism.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, cfg, GetConfig())
	assert.Equal(t, 20*time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeoutDuration())
}

func TestLoad_CompareFullStruct(t *testing.T) {
	path := writeConfig(t, `
databasePath: "/var/lib/prism"
blobPlugin: "s3"
blobLocation: "s3://prism-payloads/mainnet"
metadataPlugin: "postgres"
metadataDsn: "host=db user=prism"
pollInterval: "5s"
forkPolicy: "delete"
shutdownTimeout: "10s"
bindAddr: "127.0.0.1"
logLevel: "debug"
logFormat: "text"
confirmations: 12
metricsPort: 9100
tracing: true
tracingStdout: true
ledgers:
  - network: mainnet
    provider: dbsync
    dsn: "postgres://dbsync@localhost/cexplorer"
    startEpoch: 300
  - network: preprod
    provider: blockfrost
    url: "https://cardano-preprod.blockfrost.io/api/v0"
    projectId: "preprodabc"
`)
	expected := &Config{
		DatabasePath:    "/var/lib/prism",
		BlobPlugin:      "s3",
		BlobLocation:    "s3://prism-payloads/mainnet",
		MetadataPlugin:  "postgres",
		MetadataDsn:     "host=db user=prism",
		PollInterval:    "5s",
		ForkPolicy:      "delete",
		ShutdownTimeout: "10s",
		BindAddr:        "127.0.0.1",
		LogLevel:        "debug",
		LogFormat:       "text",
		Confirmations:   12,
		MetricsPort:     9100,
		Tracing:         true,
		TracingStdout:   true,
		Ledgers: []LedgerConfig{
			{
				Network:    "mainnet",
				Provider:   ProviderDbsync,
				DSN:        "postgres://dbsync@localhost/cexplorer",
				StartEpoch: 300,
			},
			{
				Network:   "preprod",
				Provider:  ProviderBlockfrost,
				URL:       "https://cardano-preprod.blockfrost.io/api/v0",
				ProjectID: "preprodabc",
			},
		},
	}
	actual, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
	level, err := actual.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_ConfigAndDatabaseSections(t *testing.T) {
	path := writeConfig(t, `
config:
  databasePath: ".prism-test"
  ledgers:
    - network: preview
      provider: memory
      listenAddress: "127.0.0.1:3000"
database:
  blob:
    plugin: gcs
    location: "gcs://prism-payloads"
  metadata:
    plugin: mysql
    dsn: "prism:secret@tcp(localhost:3306)/prism"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ".prism-test", cfg.DatabasePath)
	assert.Equal(t, "gcs", cfg.BlobPlugin)
	assert.Equal(t, "gcs://prism-payloads", cfg.BlobLocation)
	assert.Equal(t, "mysql", cfg.MetadataPlugin)
	assert.Equal(t, "prism:secret@tcp(localhost:3306)/prism", cfg.MetadataDsn)
	require.Len(t, cfg.Ledgers, 1)
	assert.Equal(t, "127.0.0.1:3000", cfg.Ledgers[0].ListenAddress)
}

func TestLoad_Environment(t *testing.T) {
	path := writeConfig(t, `
ledgers:
  - network: preview
    provider: memory
`)
	t.Setenv("PRISM_DATABASE_PATH", "/data")
	t.Setenv("PRISM_DATABASE_METADATA_PLUGIN", "postgres")
	t.Setenv("PRISM_CONFIRMATIONS", "3")
	t.Setenv("PRISM_LEDGER_NETWORK", "preprod")
	t.Setenv("PRISM_LEDGER_PROVIDER", "blockfrost")
	t.Setenv("PRISM_LEDGER_PROJECT_ID", "preprodxyz")
	t.Setenv("PRISM_LEDGER_START_EPOCH", "42")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.DatabasePath)
	assert.Equal(t, "postgres", cfg.MetadataPlugin)
	assert.Equal(t, uint64(3), cfg.Confirmations)
	require.Len(t, cfg.Ledgers, 2)
	assert.Equal(
		t,
		LedgerConfig{
			Network:    "preprod",
			Provider:   ProviderBlockfrost,
			ProjectID:  "preprodxyz",
			StartEpoch: 42,
		},
		cfg.Ledgers[1],
	)
	assert.Equal(t, LedgerConfig{}, cfg.Ledger)
}

func TestLoad_Invalid(t *testing.T) {
	testDefs := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown network",
			content: "ledgers:\n  - network: nowhere\n    provider: memory\n",
			errMsg:  `unknown network "nowhere"`,
		},
		{
			name:    "duplicate network",
			content: "ledgers:\n  - network: preview\n    provider: memory\n  - network: preview\n    provider: memory\n",
			errMsg:  `duplicate network "preview"`,
		},
		{
			name:    "bad provider",
			content: "ledgers:\n  - network: preview\n    provider: ogmios\n",
			errMsg:  `invalid provider "ogmios"`,
		},
		{
			name:    "dbsync without dsn",
			content: "ledgers:\n  - network: mainnet\n    provider: dbsync\n",
			errMsg:  "requires a dsn",
		},
		{
			name:    "bad poll interval",
			content: "pollInterval: soon\n",
			errMsg:  "invalid pollInterval",
		},
		{
			name:    "bad fork policy",
			content: "forkPolicy: ignore\n",
			errMsg:  "invalid fork policy",
		},
		{
			name:    "bad log format",
			content: "logFormat: xml\n",
			errMsg:  "invalid logFormat",
		},
		{
			name:    "bad log level",
			content: "logLevel: loud\n",
			errMsg:  "invalid logLevel",
		},
		{
			name:    "bad yaml",
			content: "ledgers: [\n",
			errMsg:  "error parsing config file",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, testDef.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), testDef.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	cfg := defaultConfig()
	ctx := WithContext(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}
