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

package did

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/signing"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusDeactivated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// PublicKey is a key of a DID document. Data holds the compressed SEC1
// encoding for secp256k1 keys and the raw key material otherwise.
type PublicKey struct {
	ID    string
	Usage protocol.KeyUsage
	Curve string
	Data  []byte
}

// Document is a DID document snapshot
type Document struct {
	ID         string
	Suffix     string
	PublicKeys []PublicKey
	Services   []protocol.Service
	Context    []string
	// Version is the hash of the last applied operation
	Version     []byte
	Deactivated bool
}

func (d *Document) Status() Status {
	switch {
	case d == nil:
		return StatusUnknown
	case d.Deactivated:
		return StatusDeactivated
	default:
		return StatusActive
	}
}

func (d *Document) VersionHex() string {
	return hex.EncodeToString(d.Version)
}

// Key returns the key with the given id
func (d *Document) Key(id string) (PublicKey, bool) {
	idx := d.keyIndex(id)
	if idx < 0 {
		return PublicKey{}, false
	}
	return d.PublicKeys[idx], true
}

// MasterKey returns the master key with the given id
func (d *Document) MasterKey(id string) (PublicKey, bool) {
	key, ok := d.Key(id)
	if !ok || key.Usage != protocol.KeyUsageMaster {
		return PublicKey{}, false
	}
	return key, true
}

func (d *Document) hasMasterKey() bool {
	return slices.ContainsFunc(d.PublicKeys, func(k PublicKey) bool {
		return k.Usage == protocol.KeyUsageMaster
	})
}

func (d *Document) keyIndex(id string) int {
	return slices.IndexFunc(d.PublicKeys, func(k PublicKey) bool { return k.ID == id })
}

func (d *Document) serviceIndex(id string) int {
	return slices.IndexFunc(d.Services, func(s protocol.Service) bool { return s.ID == id })
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	ret := *d
	ret.PublicKeys = make([]PublicKey, len(d.PublicKeys))
	for i, key := range d.PublicKeys {
		key.Data = bytes.Clone(key.Data)
		ret.PublicKeys[i] = key
	}
	ret.Services = slices.Clone(d.Services)
	ret.Context = slices.Clone(d.Context)
	ret.Version = bytes.Clone(d.Version)
	return &ret
}

func newDocument(suffix string, create *protocol.CreateDID) (*Document, error) {
	doc := &Document{
		ID:      MethodPrefix + suffix,
		Suffix:  suffix,
		Context: slices.Clone(create.Context),
	}
	for _, key := range create.PublicKeys {
		if err := doc.addKey(key); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
		}
	}
	for _, svc := range create.Services {
		if err := doc.addService(svc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
		}
	}
	if !doc.hasMasterKey() {
		return nil, ErrNoMasterKey
	}
	return doc, nil
}

func (d *Document) addKey(key protocol.PublicKey) error {
	if key.ID == "" {
		return fmt.Errorf("key without id")
	}
	if d.keyIndex(key.ID) >= 0 {
		return fmt.Errorf("duplicate key id %q", key.ID)
	}
	if key.Usage == protocol.KeyUsageUnknown || key.Usage > protocol.KeyUsageCapabilityDelegation {
		return fmt.Errorf("key %q has invalid usage %d", key.ID, key.Usage)
	}
	data, err := key.KeyBytes()
	if err != nil {
		return err
	}
	if key.Curve == protocol.CurveSecp256k1 {
		data, err = signing.CompressPublicKey(data)
		if err != nil {
			return fmt.Errorf("key %q: %w", key.ID, err)
		}
	} else if key.Usage == protocol.KeyUsageMaster {
		return fmt.Errorf("master key %q must use curve %s", key.ID, protocol.CurveSecp256k1)
	}
	d.PublicKeys = append(d.PublicKeys, PublicKey{
		ID:    key.ID,
		Usage: key.Usage,
		Curve: key.Curve,
		Data:  bytes.Clone(data),
	})
	return nil
}

func (d *Document) addService(svc protocol.Service) error {
	if svc.ID == "" || svc.Type == "" || svc.Endpoint == "" {
		return fmt.Errorf("incomplete service %q", svc.ID)
	}
	if d.serviceIndex(svc.ID) >= 0 {
		return fmt.Errorf("duplicate service id %q", svc.ID)
	}
	d.Services = append(d.Services, svc)
	return nil
}

// applyActions applies update actions in order. The receiver is modified, so
// callers operate on a clone.
func (d *Document) applyActions(actions []protocol.UpdateAction) error {
	if len(actions) == 0 {
		return fmt.Errorf("%w: update without actions", ErrInvalidOperation)
	}
	for i, action := range actions {
		if err := d.applyAction(action); err != nil {
			return fmt.Errorf("%w: action %d (%s): %w", ErrInvalidAction, i, action.Type, err)
		}
	}
	if !d.hasMasterKey() {
		return ErrNoMasterKey
	}
	return nil
}

func (d *Document) applyAction(action protocol.UpdateAction) error {
	switch action.Type {
	case protocol.ActionAddKey:
		if action.Key == nil {
			return fmt.Errorf("missing key")
		}
		return d.addKey(*action.Key)
	case protocol.ActionRemoveKey:
		idx := d.keyIndex(action.ID)
		if idx < 0 {
			return fmt.Errorf("unknown key %q", action.ID)
		}
		d.PublicKeys = slices.Delete(d.PublicKeys, idx, idx+1)
	case protocol.ActionAddService:
		if action.Service == nil {
			return fmt.Errorf("missing service")
		}
		return d.addService(*action.Service)
	case protocol.ActionRemoveService:
		idx := d.serviceIndex(action.ID)
		if idx < 0 {
			return fmt.Errorf("unknown service %q", action.ID)
		}
		d.Services = slices.Delete(d.Services, idx, idx+1)
	case protocol.ActionUpdateService:
		if action.Service == nil {
			return fmt.Errorf("missing service")
		}
		idx := d.serviceIndex(action.Service.ID)
		if idx < 0 {
			return fmt.Errorf("unknown service %q", action.Service.ID)
		}
		if action.Service.Type == "" && action.Service.Endpoint == "" {
			return fmt.Errorf("service %q update changes nothing", action.Service.ID)
		}
		if action.Service.Type != "" {
			d.Services[idx].Type = action.Service.Type
		}
		if action.Service.Endpoint != "" {
			d.Services[idx].Endpoint = action.Service.Endpoint
		}
	case protocol.ActionPatchContext:
		d.Context = slices.Clone(action.PatchContext)
	default:
		return fmt.Errorf("unsupported action")
	}
	return nil
}
