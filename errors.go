// Copyright 2024 The Cockroach Authors
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

package openhash

import "github.com/cockroachdb/errors"

var (
	// ErrEmpty is returned when removing an arbitrary element from an empty
	// Map or Set.
	ErrEmpty = errors.New("openhash: container is empty")

	// ErrKeyNotFound is wrapped by the errors returned from the strict
	// removal methods when the key is absent.
	ErrKeyNotFound = errors.New("openhash: key not found")
)

func keyNotFound[K any](key K) error {
	return errors.Wrapf(ErrKeyNotFound, "key %v", key)
}
