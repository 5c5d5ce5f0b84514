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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/did"
	"github.com/blinklabs-io/prism/event"
	"github.com/blinklabs-io/prism/provider"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultPollInterval  = 20 * time.Second
	DefaultConfirmations = 0
	DefaultRollbackBatch = 50
)

// ForkPolicy selects what happens to stored blocks that left the chain
type ForkPolicy string

const (
	// ForkPolicyMark keeps fork blocks flagged for inspection and removes
	// everything indexed from them
	ForkPolicyMark ForkPolicy = "mark"
	// ForkPolicyDelete removes fork blocks and epochs left without blocks
	ForkPolicyDelete ForkPolicy = "delete"
)

var ErrInvalidForkPolicy = errors.New("invalid fork policy")

// ParseForkPolicy validates a fork policy name. An empty name selects
// ForkPolicyMark.
func ParseForkPolicy(name string) (ForkPolicy, error) {
	switch ForkPolicy(name) {
	case "":
		return ForkPolicyMark, nil
	case ForkPolicyMark, ForkPolicyDelete:
		return ForkPolicy(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidForkPolicy, name)
	}
}

// Config holds the settings of the sync loop of one ledger
type Config struct {
	Logger       *slog.Logger
	Database     *database.Database
	Provider     provider.Provider
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	// Processor validates operations, secp256k1 signatures when nil
	Processor *did.Processor
	Network   string
	ForkPolicy ForkPolicy
	// StartEpoch skips everything before the epoch on an empty ledger
	StartEpoch *uint64
	// Confirmations is the depth below the tip a block needs to be applied
	Confirmations uint64
	PollInterval  time.Duration
	RollbackBatch int
}

func (c *Config) validate() error {
	if c.Database == nil {
		return errors.New("no database provided")
	}
	if c.Provider == nil {
		return errors.New("no ledger data provider provided")
	}
	if c.Network == "" {
		return errors.New("no network provided")
	}
	policy, err := ParseForkPolicy(string(c.ForkPolicy))
	if err != nil {
		return err
	}
	c.ForkPolicy = policy
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RollbackBatch <= 0 {
		c.RollbackBatch = DefaultRollbackBatch
	}
	if c.Processor == nil {
		c.Processor = did.NewProcessor(nil)
	}
	return nil
}
