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

// Package workload describes address space workloads and replays them
// against a simulated sun4c MMU.
//
// A workload is a YAML document naming a set of address spaces and a list of
// steps. Each step is one event a kernel would deliver to the MMU layer: a
// context switch, user or kernel memory accesses, cache and TLB flushes,
// process exit, or a lock request.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every workload validation error.
var ErrInvalid = errors.New("invalid workload")

// Op is a workload operation.
type Op string

// Workload operations.
const (
	OpSwitch        Op = "switch"
	OpTouch         Op = "touch"
	OpUnmap         Op = "unmap"
	OpFlushMM       Op = "flush-mm"
	OpFlushRange    Op = "flush-range"
	OpFlushPage     Op = "flush-page"
	OpFlushTLBMM    Op = "flush-tlb-mm"
	OpFlushTLBRange Op = "flush-tlb-range"
	OpFlushTLBPage  Op = "flush-tlb-page"
	OpExit          Op = "exit"
	OpLock          Op = "lock"
	OpUnlock        Op = "unlock"
	OpGrowKernel    Op = "grow-kernel"
	OpKernelTouch   Op = "kernel-touch"
	OpFlushTLBAll   Op = "flush-tlb-all"
	OpFlushCacheAll Op = "flush-cache-all"
	OpPageToRAM     Op = "flush-page-to-ram"
)

// opInfo describes the operands an operation takes.
type opInfo struct {
	space bool
	user  bool
	addr  bool
}

var ops = map[Op]opInfo{
	OpSwitch:        {space: true},
	OpTouch:         {space: true, user: true, addr: true},
	OpUnmap:         {space: true, user: true, addr: true},
	OpFlushMM:       {space: true},
	OpFlushRange:    {space: true, user: true, addr: true},
	OpFlushPage:     {space: true, user: true, addr: true},
	OpFlushTLBMM:    {space: true},
	OpFlushTLBRange: {space: true, user: true, addr: true},
	OpFlushTLBPage:  {space: true, user: true, addr: true},
	OpExit:          {space: true},
	OpLock:          {addr: true},
	OpUnlock:        {addr: true},
	OpGrowKernel:    {},
	OpKernelTouch:   {addr: true},
	OpFlushTLBAll:   {},
	OpFlushCacheAll: {},
	OpPageToRAM:     {addr: true},
}

// Number is an unsigned integer that workload files may write in decimal or
// in hex.
type Number uint64

// UnmarshalYAML implements yaml.Unmarshaler.UnmarshalYAML.
func (n *Number) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", value.Line)
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(value.Value, "_", ""), 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a 32-bit number", value.Line, value.Value)
	}
	*n = Number(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.MarshalYAML.
func (n Number) MarshalYAML() (any, error) {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!int",
		Value: fmt.Sprintf("%#x", uint64(n)),
	}, nil
}

// Step is one workload event.
type Step struct {
	// Op is the operation.
	Op Op `yaml:"op"`

	// Space names the address space the operation applies to.
	Space string `yaml:"space,omitempty"`

	// Start is the first address of the operation.
	Start Number `yaml:"start,omitempty"`

	// Length is the length of the range, in bytes. Zero means one page.
	Length Number `yaml:"length,omitempty"`

	// Write makes touches store rather than load.
	Write bool `yaml:"write,omitempty"`

	// Repeat runs the step this many times. Zero means once.
	Repeat int `yaml:"repeat,omitempty"`
}

// times returns the number of times s runs.
func (s *Step) times() int {
	if s.Repeat < 1 {
		return 1
	}
	return s.Repeat
}

// String implements fmt.Stringer.String.
func (s Step) String() string {
	var b strings.Builder
	b.WriteString(string(s.Op))
	if s.Space != "" {
		fmt.Fprintf(&b, " %s", s.Space)
	}
	if ops[s.Op].addr {
		fmt.Fprintf(&b, " [%#x, +%#x)", uint64(s.Start), uint64(s.Length))
	}
	if s.Write {
		b.WriteString(" write")
	}
	return b.String()
}

// Workload is a named sequence of steps over a set of address spaces.
type Workload struct {
	// Name is used in logs and results.
	Name string `yaml:"name"`

	// Spaces names the address spaces. They are created empty when the
	// workload starts.
	Spaces []string `yaml:"spaces"`

	// Steps are run in order.
	Steps []Step `yaml:"steps"`
}

// Validate checks that every step names a known operation and, where it
// needs one, a declared space.
func (w *Workload) Validate() error {
	if len(w.Spaces) == 0 {
		return fmt.Errorf("%w: no address spaces", ErrInvalid)
	}
	declared := make(map[string]bool, len(w.Spaces))
	for _, name := range w.Spaces {
		if name == "" {
			return fmt.Errorf("%w: empty space name", ErrInvalid)
		}
		if declared[name] {
			return fmt.Errorf("%w: space %q declared twice", ErrInvalid, name)
		}
		declared[name] = true
	}
	for i, s := range w.Steps {
		info, ok := ops[s.Op]
		if !ok {
			return fmt.Errorf("%w: step %d: unknown op %q", ErrInvalid, i, s.Op)
		}
		if info.space && !declared[s.Space] {
			return fmt.Errorf("%w: step %d: %s needs a declared space, got %q", ErrInvalid, i, s.Op, s.Space)
		}
		if !info.space && s.Space != "" {
			return fmt.Errorf("%w: step %d: %s takes no space", ErrInvalid, i, s.Op)
		}
		if s.Repeat < 0 {
			return fmt.Errorf("%w: step %d: negative repeat %d", ErrInvalid, i, s.Repeat)
		}
		if uint64(s.Start)+uint64(s.Length) > 1<<32 {
			return fmt.Errorf("%w: step %d: range [%#x, +%#x) wraps", ErrInvalid, i, uint64(s.Start), uint64(s.Length))
		}
	}
	return nil
}

// Parse decodes and validates a workload. Unknown keys are rejected.
func Parse(data []byte) (*Workload, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var w Workload
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Load reads a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Marshal encodes w as YAML.
func (w *Workload) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
