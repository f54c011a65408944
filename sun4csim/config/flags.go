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
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/sun4c"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	def := sun4c.DefaultConfig()

	flagSet.String("config", "", "TOML file with configuration values. Flags set on the command line override it.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
	flagSet.Bool("check-invariants", false, "verify pool invariants after every workload step.")

	// Flags that describe the simulated machine.
	flagSet.Int("contexts", 8, "number of hardware MMU contexts.")
	flagSet.Int("segmaps", 128, "number of PMEGs, including the invalid one.")
	flagSet.Uint("segment-shift", hostarch.DefaultSegmentShift, "binary log of the segment size.")
	flagSet.Int("vac-size", 65536, "virtual address cache size in bytes.")
	flagSet.Int("vac-linesize", 16, "virtual address cache line size in bytes: 16 or 32.")
	flagSet.Bool("vac-hwflush", false, "use hardware-assisted page flushes.")
	flagSet.Bool("any-geometry", false, "accept context and segmap counts no real sun4c has.")

	// Flags that control the manager.
	flagSet.Uint64("kernel-base", uint64(def.KernelBase), "lowest kernel virtual address.")
	flagSet.Int("locked-segments", def.LockedSegments, "segments locked at boot for the kernel image.")
	flagSet.Int("kernel-seed", def.KernelRingSeed, "PMEGs seeded on the kernel free ring at boot.")
	flagSet.Int("lend-reserve", def.LendReserve, "user PMEGs the kernel may never borrow.")
	flagSet.Int("max-lendable", 0, "override for the kernel borrowing ceiling; 0 derives it from --lend-reserve.")
	flagSet.Int("range-flush-pages", def.RangeFlushPages, "largest overlap, in pages, a range flush handles page by page.")
	flagSet.Bool("preload", def.Preload, "load every present translation of a segment when it is first mapped.")
}

// fieldFor returns the Config field tagged with the given flag name.
func fieldFor(conf *Config, name string) (reflect.Value, bool) {
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if tag, ok := st.Field(i).Tag.Lookup("flag"); ok && tag == name {
			return obj.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFromFlag copies the value of fl into the matching field of conf.
func setFromFlag(conf *Config, fl *flag.Flag) {
	field, ok := fieldFor(conf, fl.Name)
	if !ok {
		// Not a config flag.
		return
	}
	getter, ok := fl.Value.(flag.Getter)
	if !ok {
		panic(fmt.Sprintf("Flag %q does not implement flag.Getter", fl.Name))
	}
	field.Set(reflect.ValueOf(getter.Get()))
}

// NewFromFlags creates a new Config with values coming from command line
// flags, layered over the file named by --config if one is given.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		setFromFlag(conf, fl)
	}

	if conf.ConfigFile != "" {
		md, err := toml.DecodeFile(conf.ConfigFile, conf)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", conf.ConfigFile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %q: unknown keys %v", conf.ConfigFile, undecoded)
		}
		// Flags given explicitly win over the file.
		flagSet.Visit(func(fl *flag.Flag) {
			setFromFlag(conf, fl)
		})
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Flags at their default value are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

// Override writes a new value to a flag, using the same parsing rules as the
// command line, and validates the result.
func (c *Config) Override(name string, value string) error {
	field, ok := fieldFor(c, name)
	if !ok || name == "config" {
		return fmt.Errorf("flag %q not found. Cannot set it to %q", name, value)
	}

	// Use a temporary flag set to convert the string value to the
	// underlying flag type.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)
	fl := flagSet.Lookup(name)
	if err := fl.Value.Set(value); err != nil {
		return fmt.Errorf("error setting flag %s=%q: %w", name, value, err)
	}
	field.Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))

	// Validates the config again to ensure it's left in a consistent state.
	return c.Validate()
}

func getVal(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
