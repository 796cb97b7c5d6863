// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package registry

import (
	"math/rand"

	"github.com/distort-io/distort/internal/protocol"
)

// electPrimary picks a uniformly random surviving worker of class to become
// the new primary, marking it so. Returns false if the class roster is
// empty — no election is possible, and the class stays without a primary
// until a worker connects.
func (r *Rosters) electPrimary(class protocol.Class, rng *rand.Rand) (*WorkerEntry, bool) {
	roster := r.workers[class]
	if len(roster) == 0 {
		return nil, false
	}
	chosen := roster[rng.Intn(len(roster))]
	chosen.IsPrimary = true
	return chosen, true
}
