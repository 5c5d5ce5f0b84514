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

import "errors"

// Malformed input
var (
	ErrInvalidDID           = errors.New("invalid DID")
	ErrInvalidLongForm      = errors.New("invalid long-form DID")
	ErrInvalidOperation     = errors.New("invalid operation")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Protocol violations
var (
	ErrDuplicateCreate           = errors.New("DID already exists")
	ErrUnknownDID                = errors.New("DID not found")
	ErrPreviousOperationNotFound = errors.New("previous operation not found")
	ErrPreviousOperationNotTip   = errors.New("previous operation is not the current tip")
	ErrDIDDeactivated            = errors.New("DID is deactivated")
	ErrInvalidSigningKey         = errors.New("signing key is not a usable master key")
	ErrInvalidSignature          = errors.New("invalid operation signature")
	ErrInvalidAction             = errors.New("invalid update action")
	ErrNoMasterKey               = errors.New("DID must keep at least one master key")
)

// ErrOperationNotFound is returned by an OperationStore when no operation has the requested hash
var ErrOperationNotFound = errors.New("operation not found")

// ErrCorruptHistory is returned when stored operations cannot be folded
var ErrCorruptHistory = errors.New("stored operation history is inconsistent")

var malformedErrors = []error{
	ErrInvalidDID,
	ErrInvalidLongForm,
	ErrInvalidOperation,
	ErrUnsupportedOperation,
}

var violationErrors = []error{
	ErrDuplicateCreate,
	ErrUnknownDID,
	ErrPreviousOperationNotFound,
	ErrPreviousOperationNotTip,
	ErrDIDDeactivated,
	ErrInvalidSigningKey,
	ErrInvalidSignature,
	ErrInvalidAction,
	ErrNoMasterKey,
}

// IsMalformed reports whether err was caused by undecodable or invalid input
func IsMalformed(err error) bool {
	for _, e := range malformedErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsProtocolViolation reports whether err is a protocol rule rejection
func IsProtocolViolation(err error) bool {
	for _, e := range violationErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsRejection reports whether err rejects a single operation without
// indicating an infrastructure problem
func IsRejection(err error) bool {
	return IsMalformed(err) || IsProtocolViolation(err)
}

// Kind returns a short label for the class of err, suitable for metrics
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsMalformed(err):
		return "malformed"
	case IsProtocolViolation(err):
		return "protocol_violation"
	default:
		return "infrastructure"
	}
}
