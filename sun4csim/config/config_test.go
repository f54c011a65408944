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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/sun4c"
)

func newTestFlags() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags())
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}

	g, mc := c.ManagerConfig()
	if diff := cmp.Diff(sun4c.DefaultConfig(), mc); diff != "" {
		t.Errorf("ManagerConfig mismatch (-want +got):\n%s", diff)
	}
	wantGeo := mmuhw.Geometry{
		NumContexts: 8,
		NumSegmaps:  128,
		Segment:     hostarch.SegmentLayout{Shift: hostarch.DefaultSegmentShift},
		CacheSize:   65536,
		LineSize:    16,
	}
	if diff := cmp.Diff(wantGeo, g); diff != "" {
		t.Errorf("Geometry mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newTestFlags()
	if err := testFlags.Parse([]string{"--debug", "--contexts=16", "--segmaps=256", "--vac-linesize=32", "--vac-hwflush", "--kernel-base=0xe0000000"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 16; c.Contexts != want {
		t.Errorf("Contexts=%v, want: %v", c.Contexts, want)
	}
	if want := 256; c.Segmaps != want {
		t.Errorf("Segmaps=%v, want: %v", c.Segmaps, want)
	}
	if want := uint64(0xe0000000); c.KernelBase != want {
		t.Errorf("KernelBase=%#x, want: %#x", c.KernelBase, want)
	}
	_, mc := c.ManagerConfig()
	if !mc.HWFlushes {
		t.Errorf("ManagerConfig().HWFlushes = false, want true")
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newTestFlags()
	if err := testFlags.Parse([]string{"--lend-reserve=30", "--preload=false", "--log-format=json"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	orig, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	flags := orig.ToFlags()
	want := []string{"--log-format=json", "--lend-reserve=30", "--preload=false"}
	if diff := cmp.Diff(want, flags); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}

	again := newTestFlags()
	if err := again.Parse(flags); err != nil {
		t.Fatalf("Parse(%v): %v", flags, err)
	}
	c, err := NewFromFlags(again)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig, c); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sun4csim.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestConfigFile(t *testing.T) {
	path := writeConfigFile(t, strings.Join([]string{
		"contexts = 16",
		"segmaps = 256",
		"kernel_base = 0xe0000000",
		"lend_reserve = 40",
		"vac_hwflush = true",
	}, "\n"))
	testFlags := newTestFlags()
	if err := testFlags.Parse([]string{"--config=" + path, "--lend-reserve=10"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := 16; c.Contexts != want {
		t.Errorf("Contexts=%v, want: %v", c.Contexts, want)
	}
	if want := uint64(0xe0000000); c.KernelBase != want {
		t.Errorf("KernelBase=%#x, want: %#x", c.KernelBase, want)
	}
	if !c.VACHWFlush {
		t.Errorf("VACHWFlush=false, want true")
	}
	// The command line wins over the file.
	if want := 10; c.LendReserve != want {
		t.Errorf("LendReserve=%v, want: %v", c.LendReserve, want)
	}
	// Untouched values keep their flag defaults.
	if want := 8; c.KernelRingSeed != want {
		t.Errorf("KernelRingSeed=%v, want: %v", c.KernelRingSeed, want)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{"unknown key", "contxts = 16"},
		{"bad syntax", "contexts = "},
		{"wrong type", `contexts = "many"`},
		{"invalid geometry", "contexts = 5"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newTestFlags()
			if err := testFlags.Parse([]string{"--config=" + writeConfigFile(t, tc.contents)}); err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags succeeded with config %q", tc.contents)
			}
		})
	}
	testFlags := newTestFlags()
	if err := testFlags.Parse([]string{"--config=" + filepath.Join(t.TempDir(), "missing.toml")}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags succeeded with a missing config file")
	}
}

func TestValidate(t *testing.T) {
	base, err := NewFromFlags(newTestFlags())
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"sparcstation 2", func(c *Config) { c.Contexts, c.Segmaps, c.VACLineSize, c.VACHWFlush = 16, 256, 32, true }, true},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, false},
		{"odd contexts", func(c *Config) { c.Contexts = 12 }, false},
		{"odd contexts allowed", func(c *Config) { c.Contexts, c.AnyGeometry = 12, true }, true},
		{"line size", func(c *Config) { c.VACLineSize = 64 }, false},
		{"unaligned kernel base", func(c *Config) { c.KernelBase = 0xf0001000 }, false},
		{"kernel base too large", func(c *Config) { c.KernelBase = 1 << 32 }, false},
		{"empty seed", func(c *Config) { c.KernelRingSeed = 0 }, false},
		{"ceiling too high", func(c *Config) { c.MaxUserLendable = 1000 }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := base.Clone()
			tc.modify(c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%t", err, tc.ok)
			}
		})
	}
}

func TestClone(t *testing.T) {
	orig, err := NewFromFlags(newTestFlags())
	if err != nil {
		t.Fatal(err)
	}
	clone := orig.Clone()
	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Errorf("Clone mismatch (-want +got):\n%s", diff)
	}
	clone.Segmaps = 512
	if orig.Segmaps == 512 {
		t.Errorf("modifying the clone changed the original")
	}
}

func TestOverride(t *testing.T) {
	c, err := NewFromFlags(newTestFlags())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Override("segmaps", "512"); err != nil {
		t.Fatalf("Override(segmaps): %v", err)
	}
	if want := 512; c.Segmaps != want {
		t.Errorf("Segmaps=%v, want: %v", c.Segmaps, want)
	}
	if err := c.Override("vac-hwflush", "true"); err != nil || !c.VACHWFlush {
		t.Errorf("Override(vac-hwflush) = %v, VACHWFlush=%t", err, c.VACHWFlush)
	}
	for _, tc := range []struct{ name, value string }{
		{"no-such-flag", "1"},
		{"config", "other.toml"},
		{"segmaps", "many"},
		{"segmaps", "100"},
	} {
		if err := c.Clone().Override(tc.name, tc.value); err == nil {
			t.Errorf("Override(%q, %q) succeeded", tc.name, tc.value)
		}
	}
}
