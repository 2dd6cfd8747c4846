// Copyright 2025 AUTHORS
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

package registry

import "fmt"

// migrators maps a document's current Version to the function that
// advances it one step. migrate applies them in sequence until the
// document reaches CurrentDataVersion.
var migrators = map[int]func(*Data) error{
	// No migrations exist yet; CurrentDataVersion is 1 and every
	// document on disk was already written at that version. The table
	// exists so the next schema change has a place to land rather than
	// requiring every caller of Open to special-case an old format.
}

func migrate(d *Data) error {
	if d.Version == 0 {
		// A document from before Version was introduced; treat it as
		// version 1 since the shape hasn't otherwise changed.
		d.Version = 1
	}
	for d.Version < CurrentDataVersion {
		step, ok := migrators[d.Version]
		if !ok {
			return fmt.Errorf("no migrator from version %d to %d", d.Version, d.Version+1)
		}
		if err := step(d); err != nil {
			return fmt.Errorf("migrate version %d: %w", d.Version, err)
		}
		d.Version++
	}
	if d.Version > CurrentDataVersion {
		return fmt.Errorf("document version %d is newer than this binary supports (%d)", d.Version, CurrentDataVersion)
	}
	return nil
}
