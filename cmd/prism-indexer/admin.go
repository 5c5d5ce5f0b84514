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
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/internal/node"
	"github.com/spf13/cobra"
)

// withDatabase runs fn with the configured database open
func withDatabase(
	cmd *cobra.Command,
	fn func(db *database.Database) error,
) error {
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if globalFlags.debug {
		logger = node.NewLogger(cfg, cmd.ErrOrStderr(), true)
	}
	db, err := node.OpenDatabase(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func ledgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage indexed ledgers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <network>",
			Short: "Register a ledger",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, func(db *database.Database) error {
					ledger, err := db.LedgerCreate(args[0], nil)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "ledger %s (id %d)\n", ledger.Network, ledger.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <network>",
			Short: "Remove a ledger and everything indexed for it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, func(db *database.Database) error {
					if err := db.LedgerDelete(args[0], nil); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted ledger %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List ledgers with their last sync time",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, func(db *database.Database) error {
					ledgers, err := db.Ledgers(nil)
					if err != nil {
						return err
					}
					for _, ledger := range ledgers {
						lastSynced := "never"
						if ledger.LastSyncedAt != nil {
							lastSynced = ledger.LastSyncedAt.Format(time.RFC3339)
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ledger.Network, lastSynced)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func epochCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epoch",
		Short: "Manage indexed epochs",
	}
	var cascade bool
	deleteCmd := &cobra.Command{
		Use:   "delete <network> <epoch>",
		Short: "Remove an epoch",
		Long: "Remove an epoch. Without --cascade only an epoch without " +
			"blocks is removed.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid epoch %q: %w", args[1], err)
			}
			return withDatabase(cmd, func(db *database.Database) error {
				ledger, err := db.Ledger(args[0], nil)
				if err != nil {
					return err
				}
				if cascade {
					err = db.EpochDelete(ledger.ID, epoch, nil)
				} else {
					err = db.EpochDeleteEmpty(ledger.ID, epoch, nil)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted epoch %d of %s\n", epoch, ledger.Network)
				return nil
			})
		},
	}
	deleteCmd.Flags().BoolVar(&cascade, "cascade", false, "also remove the blocks of the epoch and everything indexed from them")
	cmd.AddCommand(deleteCmd)
	return cmd
}

func txCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Manage indexed transactions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <network> <height> <hash-prefix>",
		Short: "Remove a transaction and the operations it carried",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[1], err)
			}
			return withDatabase(cmd, func(db *database.Database) error {
				ledger, err := db.Ledger(args[0], nil)
				if err != nil {
					return err
				}
				if err := db.TransactionDelete(ledger.ID, height, args[2], nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted transaction %s at height %d\n", args[2], height)
				return nil
			})
		},
	})
	return cmd
}

func addressesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addresses",
		Short: "Manage recorded addresses",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "gc",
		Short: "Remove addresses no longer referenced by any output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(db *database.Database) error {
				count, err := db.DeleteOrphanedAddresses(nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d addresses\n", count)
				return nil
			})
		},
	})
	return cmd
}
