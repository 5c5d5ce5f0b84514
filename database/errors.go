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

package database

import "errors"

var (
	// ErrBlockHeightConflict is returned when a different canonical block
	// is already stored at the same height
	ErrBlockHeightConflict = errors.New("another block is stored at this height")
	// ErrEpochNotEmpty is returned by EpochDeleteEmpty when blocks still
	// reference the epoch
	ErrEpochNotEmpty = errors.New("epoch still has blocks")
	// ErrOperationHasDependents is returned when deleting a transaction
	// whose operations are referenced by later operations
	ErrOperationHasDependents = errors.New("operation is referenced by a later operation")
	ErrInvalidNetwork         = errors.New("invalid network name")
	ErrInvalidAddress         = errors.New("invalid address")
)
