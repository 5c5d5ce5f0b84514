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

package protocol

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the PRISM node protobuf schema
const (
	fieldObjectBlockContent protowire.Number = 4

	fieldBlockOperations protowire.Number = 2

	fieldSignedWith      protowire.Number = 1
	fieldSignature       protowire.Number = 2
	fieldSignedOperation protowire.Number = 3

	fieldOperationCreate     protowire.Number = 1
	fieldOperationUpdate     protowire.Number = 2
	fieldOperationDeactivate protowire.Number = 6

	fieldCreateDidData protowire.Number = 1

	fieldDidDataPublicKeys protowire.Number = 2
	fieldDidDataServices   protowire.Number = 3
	fieldDidDataContext    protowire.Number = 4

	fieldPrevHash protowire.Number = 1
	fieldDidId    protowire.Number = 2
	fieldActions  protowire.Number = 3

	fieldKeyId         protowire.Number = 1
	fieldKeyUsage      protowire.Number = 2
	fieldKeyEcData     protowire.Number = 8
	fieldKeyCompressed protowire.Number = 9

	fieldEcCurve protowire.Number = 1
	fieldEcX     protowire.Number = 2
	fieldEcY     protowire.Number = 3
	fieldEcData  protowire.Number = 2

	fieldServiceId       protowire.Number = 1
	fieldServiceType     protowire.Number = 2
	fieldServiceEndpoint protowire.Number = 3

	fieldActionAddKey        protowire.Number = 1
	fieldActionRemoveKey     protowire.Number = 2
	fieldActionAddService    protowire.Number = 3
	fieldActionRemoveService protowire.Number = 4
	fieldActionUpdateService protowire.Number = 5
	fieldActionPatchContext  protowire.Number = 6
)

// Block is the operation container published in transaction metadata
type Block struct {
	Operations []SignedOperation
}

// MarshalObject serializes the operations wrapped in an AtalaObject
func MarshalObject(ops []SignedOperation) []byte {
	var blk []byte
	for _, op := range ops {
		blk = appendMessage(blk, fieldBlockOperations, marshalSignedOperation(op))
	}
	return appendMessage(nil, fieldObjectBlockContent, blk)
}

// UnmarshalObject parses an AtalaObject. A nil Block with a nil error means
// the object carries no block content, as with legacy payloads.
func UnmarshalObject(data []byte) (*Block, error) {
	var ret *Block
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if num != fieldObjectBlockContent || typ != protowire.BytesType {
			return nil
		}
		if ret == nil {
			ret = &Block{}
		}
		return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
			if num != fieldBlockOperations || typ != protowire.BytesType {
				return nil
			}
			op, err := unmarshalSignedOperation(val)
			if err != nil {
				return err
			}
			ret.Operations = append(ret.Operations, op)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func marshalSignedOperation(op SignedOperation) []byte {
	var b []byte
	b = appendString(b, fieldSignedWith, op.SignedWith)
	b = appendBytes(b, fieldSignature, op.Signature)
	if op.Operation != nil {
		b = appendMessage(b, fieldSignedOperation, op.Operation)
	}
	return b
}

func unmarshalSignedOperation(data []byte) (SignedOperation, error) {
	var ret SignedOperation
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldSignedWith:
			ret.SignedWith = string(val)
		case fieldSignature:
			ret.Signature = bytes.Clone(val)
		case fieldSignedOperation:
			ret.Operation = bytes.Clone(val)
		}
		return nil
	})
	return ret, err
}

// MarshalOperation serializes an operation into its protobuf form
func MarshalOperation(op *Operation) ([]byte, error) {
	switch op.Type() {
	case OperationTypeCreate:
		var data []byte
		for _, key := range op.Create.PublicKeys {
			data = appendMessage(data, fieldDidDataPublicKeys, marshalPublicKey(key))
		}
		for _, svc := range op.Create.Services {
			data = appendMessage(data, fieldDidDataServices, marshalService(svc))
		}
		for _, ctx := range op.Create.Context {
			data = appendRepeatedString(data, fieldDidDataContext, ctx)
		}
		create := appendMessage(nil, fieldCreateDidData, data)
		return appendMessage(nil, fieldOperationCreate, create), nil
	case OperationTypeUpdate:
		var b []byte
		b = appendBytes(b, fieldPrevHash, op.Update.PreviousOperationHash)
		b = appendString(b, fieldDidId, op.Update.ID)
		for _, action := range op.Update.Actions {
			actionBytes, err := marshalAction(action)
			if err != nil {
				return nil, err
			}
			b = appendMessage(b, fieldActions, actionBytes)
		}
		return appendMessage(nil, fieldOperationUpdate, b), nil
	case OperationTypeDeactivate:
		var b []byte
		b = appendBytes(b, fieldPrevHash, op.Deactivate.PreviousOperationHash)
		b = appendString(b, fieldDidId, op.Deactivate.ID)
		return appendMessage(nil, fieldOperationDeactivate, b), nil
	default:
		return nil, ErrUnknownOperation
	}
}

// UnmarshalOperation parses a serialized operation. Variants that are not
// modeled are reported through Operation.Unsupported rather than an error.
func UnmarshalOperation(data []byte) (*Operation, error) {
	ret := &Operation{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldOperationCreate:
			create, err := unmarshalCreate(val)
			if err != nil {
				return fmt.Errorf("create operation: %w", err)
			}
			ret.Create = create
		case fieldOperationUpdate:
			update, err := unmarshalUpdate(val)
			if err != nil {
				return fmt.Errorf("update operation: %w", err)
			}
			ret.Update = update
		case fieldOperationDeactivate:
			deactivate := &DeactivateDID{}
			err := decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
				if typ != protowire.BytesType {
					return nil
				}
				switch num {
				case fieldPrevHash:
					deactivate.PreviousOperationHash = bytes.Clone(val)
				case fieldDidId:
					deactivate.ID = string(val)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("deactivate operation: %w", err)
			}
			ret.Deactivate = deactivate
		default:
			ret.Unsupported = int32(num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func unmarshalCreate(data []byte) (*CreateDID, error) {
	ret := &CreateDID{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if num != fieldCreateDidData || typ != protowire.BytesType {
			return nil
		}
		return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
			if typ != protowire.BytesType {
				return nil
			}
			switch num {
			case fieldDidDataPublicKeys:
				key, err := unmarshalPublicKey(val)
				if err != nil {
					return err
				}
				ret.PublicKeys = append(ret.PublicKeys, key)
			case fieldDidDataServices:
				svc, err := unmarshalService(val)
				if err != nil {
					return err
				}
				ret.Services = append(ret.Services, svc)
			case fieldDidDataContext:
				ret.Context = append(ret.Context, string(val))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func unmarshalUpdate(data []byte) (*UpdateDID, error) {
	ret := &UpdateDID{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldPrevHash:
			ret.PreviousOperationHash = bytes.Clone(val)
		case fieldDidId:
			ret.ID = string(val)
		case fieldActions:
			action, err := unmarshalAction(val)
			if err != nil {
				return err
			}
			ret.Actions = append(ret.Actions, action)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func marshalAction(action UpdateAction) ([]byte, error) {
	var inner []byte
	var field protowire.Number
	switch action.Type {
	case ActionAddKey:
		if action.Key == nil {
			return nil, fmt.Errorf("%s action without key", action.Type)
		}
		field = fieldActionAddKey
		inner = appendMessage(nil, 1, marshalPublicKey(*action.Key))
	case ActionRemoveKey:
		field = fieldActionRemoveKey
		inner = appendString(nil, 1, action.ID)
	case ActionAddService:
		if action.Service == nil {
			return nil, fmt.Errorf("%s action without service", action.Type)
		}
		field = fieldActionAddService
		inner = appendMessage(nil, 1, marshalService(*action.Service))
	case ActionRemoveService:
		field = fieldActionRemoveService
		inner = appendString(nil, 1, action.ID)
	case ActionUpdateService:
		if action.Service == nil {
			return nil, fmt.Errorf("%s action without service", action.Type)
		}
		field = fieldActionUpdateService
		inner = appendString(nil, 1, action.Service.ID)
		inner = appendString(inner, 2, action.Service.Type)
		inner = appendString(inner, 3, action.Service.Endpoint)
	case ActionPatchContext:
		field = fieldActionPatchContext
		for _, ctx := range action.PatchContext {
			inner = appendRepeatedString(inner, 1, ctx)
		}
	default:
		return nil, fmt.Errorf("unknown update action type: %d", action.Type)
	}
	return appendMessage(nil, field, inner), nil
}

func unmarshalAction(data []byte) (UpdateAction, error) {
	var ret UpdateAction
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldActionAddKey:
			ret.Type = ActionAddKey
			return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
				if num != 1 || typ != protowire.BytesType {
					return nil
				}
				key, err := unmarshalPublicKey(val)
				if err != nil {
					return err
				}
				ret.Key = &key
				return nil
			})
		case fieldActionRemoveKey, fieldActionRemoveService:
			ret.Type = ActionRemoveKey
			if num == fieldActionRemoveService {
				ret.Type = ActionRemoveService
			}
			return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
				if num == 1 && typ == protowire.BytesType {
					ret.ID = string(val)
				}
				return nil
			})
		case fieldActionAddService:
			ret.Type = ActionAddService
			return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
				if num != 1 || typ != protowire.BytesType {
					return nil
				}
				svc, err := unmarshalService(val)
				if err != nil {
					return err
				}
				ret.Service = &svc
				return nil
			})
		case fieldActionUpdateService:
			ret.Type = ActionUpdateService
			svc, err := unmarshalService(val)
			if err != nil {
				return err
			}
			ret.Service = &svc
		case fieldActionPatchContext:
			ret.Type = ActionPatchContext
			return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
				if num == 1 && typ == protowire.BytesType {
					ret.PatchContext = append(ret.PatchContext, string(val))
				}
				return nil
			})
		}
		return nil
	})
	return ret, err
}

func marshalPublicKey(key PublicKey) []byte {
	var b []byte
	b = appendString(b, fieldKeyId, key.ID)
	b = appendVarint(b, fieldKeyUsage, uint64(key.Usage)) // #nosec G115
	if len(key.Compressed) > 0 {
		var data []byte
		data = appendString(data, fieldEcCurve, key.Curve)
		data = appendBytes(data, fieldEcData, key.Compressed)
		b = appendMessage(b, fieldKeyCompressed, data)
	} else {
		var data []byte
		data = appendString(data, fieldEcCurve, key.Curve)
		data = appendBytes(data, fieldEcX, key.X)
		data = appendBytes(data, fieldEcY, key.Y)
		b = appendMessage(b, fieldKeyEcData, data)
	}
	return b
}

func unmarshalPublicKey(data []byte) (PublicKey, error) {
	var ret PublicKey
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, v uint64) error {
		switch {
		case num == fieldKeyId && typ == protowire.BytesType:
			ret.ID = string(val)
		case num == fieldKeyUsage && typ == protowire.VarintType:
			ret.Usage = KeyUsage(int32(v)) // #nosec G115
		case num == fieldKeyEcData && typ == protowire.BytesType:
			return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
				if typ != protowire.BytesType {
					return nil
				}
				switch num {
				case fieldEcCurve:
					ret.Curve = string(val)
				case fieldEcX:
					ret.X = bytes.Clone(val)
				case fieldEcY:
					ret.Y = bytes.Clone(val)
				}
				return nil
			})
		case num == fieldKeyCompressed && typ == protowire.BytesType:
			return decodeFields(val, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
				if typ != protowire.BytesType {
					return nil
				}
				switch num {
				case fieldEcCurve:
					ret.Curve = string(val)
				case fieldEcData:
					ret.Compressed = bytes.Clone(val)
				}
				return nil
			})
		}
		return nil
	})
	return ret, err
}

func marshalService(svc Service) []byte {
	var b []byte
	b = appendString(b, fieldServiceId, svc.ID)
	b = appendString(b, fieldServiceType, svc.Type)
	b = appendString(b, fieldServiceEndpoint, svc.Endpoint)
	return b
}

func unmarshalService(data []byte) (Service, error) {
	var ret Service
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldServiceId:
			ret.ID = string(val)
		case fieldServiceType:
			ret.Type = string(val)
		case fieldServiceEndpoint:
			ret.Endpoint = string(val)
		}
		return nil
	})
	return ret, err
}

// decodeFields walks the top-level fields of a message. Length-delimited
// values are passed as val and varints as v; other wire types are skipped.
func decodeFields(
	data []byte,
	fn func(num protowire.Number, typ protowire.Type, val []byte, v uint64) error,
) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch typ {
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, val, 0); err != nil {
				return err
			}
			data = data[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendRepeatedString always emits the element, empty strings included
func appendRepeatedString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
