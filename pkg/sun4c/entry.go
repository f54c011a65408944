// Copyright 2026 The gVisor Authors.
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

package sun4c

import (
	"fmt"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/ring"
)

// ownership names the ring an entry belongs to.
type ownership uint8

const (
	ownNone ownership = iota
	ownKernelFree
	ownKernel
	ownUserFree
	ownContext
	ownLocked
)

// String implements fmt.Stringer.String.
func (o ownership) String() string {
	switch o {
	case ownNone:
		return "none"
	case ownKernelFree:
		return "kfree"
	case ownKernel:
		return "kernel"
	case ownUserFree:
		return "ufree"
	case ownContext:
		return "context"
	case ownLocked:
		return "locked"
	default:
		return fmt.Sprintf("ownership(%d)", uint8(o))
	}
}

// entry describes one PMEG. The entry for PMEG p lives at index p of
// Manager.entries, and its handle in every ring column is p.
type entry struct {
	// vaddr is the segment base mapped by this PMEG. It is stale unless the
	// entry is in the kernel, context or locked rings.
	vaddr hostarch.Addr

	// pseg is the PMEG number. It never changes.
	pseg mmuhw.PMEG

	// locked is set for entries that may never be evicted.
	locked bool

	// boot is set for entries locked at boot, which are never unlocked.
	boot bool

	// ctx is the owning context of a user entry.
	ctx int

	// owner is the ownership ring the entry is linked into.
	owner ownership
}

func (e *entry) String() string {
	return fmt.Sprintf("pseg %d vaddr %v ctx %d in %v", e.pseg, e.vaddr, e.ctx, e.owner)
}

// handle returns the ring handle of pmeg.
func handle(pmeg mmuhw.PMEG) ring.Handle {
	return ring.Handle(pmeg)
}
