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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blinklabs-io/prism/codec"
	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/resolver"
	"github.com/blinklabs-io/prism/signing"
	"github.com/spf13/cobra"
)

type keyView struct {
	ID    string `json:"id"`
	Usage string `json:"usage"`
	Curve string `json:"curve"`
	Data  string `json:"data"`
}

type serviceView struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
}

type resolutionView struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	Version           string        `json:"version"`
	Published         bool          `json:"published"`
	Created           *time.Time    `json:"created,omitempty"`
	Updated           *time.Time    `json:"updated,omitempty"`
	NextOperationTime *time.Time    `json:"nextOperationTime,omitempty"`
	Context           []string      `json:"context,omitempty"`
	PublicKeys        []keyView     `json:"publicKeys"`
	Services          []serviceView `json:"services"`
}

func newResolutionView(res *resolver.Resolution) resolutionView {
	doc := res.Document
	ret := resolutionView{
		ID:                doc.ID,
		Status:            res.Status.String(),
		Version:           doc.VersionHex(),
		Published:         res.Published,
		NextOperationTime: res.NextOperationTime,
		Context:           doc.Context,
		PublicKeys:        make([]keyView, 0, len(doc.PublicKeys)),
		Services:          make([]serviceView, 0, len(doc.Services)),
	}
	if !res.Created.IsZero() {
		ret.Created = &res.Created
	}
	if !res.Updated.IsZero() {
		ret.Updated = &res.Updated
	}
	for _, key := range doc.PublicKeys {
		ret.PublicKeys = append(ret.PublicKeys, keyView{
			ID:    key.ID,
			Usage: key.Usage.String(),
			Curve: key.Curve,
			Data:  hex.EncodeToString(key.Data),
		})
	}
	for _, svc := range doc.Services {
		ret.Services = append(ret.Services, serviceView(svc))
	}
	return ret
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveCommand() *cobra.Command {
	var versionHex string
	cmd := &cobra.Command{
		Use:   "resolve <did>",
		Short: "Resolve a DID from the indexed operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var version []byte
			if versionHex != "" {
				var err error
				version, err = hex.DecodeString(versionHex)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", versionHex, err)
				}
			}
			return withDatabase(cmd, func(db *database.Database) error {
				r := resolver.New(db)
				var res *resolver.Resolution
				var err error
				if versionHex != "" {
					res, err = r.ResolveVersion(cmd.Context(), args[0], version)
				} else {
					res, err = r.Resolve(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), newResolutionView(res))
			})
		},
	}
	cmd.Flags().StringVar(&versionHex, "version", "", "hex hash of the operation that produced the requested version")
	return cmd
}

type operationView struct {
	Hash       string `json:"hash"`
	Type       string `json:"type"`
	DidSuffix  string `json:"didSuffix,omitempty"`
	SignedWith string `json:"signedWith"`
	Error      string `json:"error,omitempty"`
}

func decodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file|->",
		Short: "Decode the protocol metadata of a transaction",
		Long: "Decode the JSON value of metadata label 21325 and list the " +
			"operations it carries.",
		Args: cobra.ExactArgs(1),
		// Skip config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			ops, err := codec.DecodeJSON(data)
			if err != nil {
				return err
			}
			views := make([]operationView, 0, len(ops))
			for _, signed := range ops {
				view := operationView{
					Hash:       signing.HashHex(signed.Operation),
					SignedWith: signed.SignedWith,
				}
				op, err := signed.Decode()
				if err != nil {
					view.Type = "unknown"
					view.Error = err.Error()
				} else {
					view.Type = op.Type().String()
					view.DidSuffix = op.DidSuffix()
					if view.DidSuffix == "" {
						view.DidSuffix = view.Hash
					}
				}
				views = append(views, view)
			}
			return writeJSON(cmd.OutOrStdout(), views)
		},
	}
}
