// Package config parses the operator-facing compiler/merger settings of
// spec §6/§9 from a JSON-with-comments file, the same way the teacher's
// root config.go loads .tk.json: hujson.Standardize then
// encoding/json.Unmarshal, unknown keys silently ignored, invalid values
// rejected at construction rather than deferred to first use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/compression"
)

// ErrInvalidArgument is returned when a config file is well-formed JSONC
// but carries a value this package cannot make sense of (spec §7).
var ErrInvalidArgument = fmt.Errorf("config: invalid argument")

// Config holds the externally observable compiler/merger settings of
// spec §6. Fields are all optional; a zero Config matches the wire
// defaults: no memory limit, no temp dir override, minimization on, no
// compression.
type Config struct {
	MemoryLimit           Memory `json:"memory_limit,omitempty"`
	TemporaryPath         string `json:"temporary_path,omitempty"`
	ParallelSortThreshold int    `json:"parallel_sort_threshold,omitempty"`
	Compression           string `json:"compression,omitempty"`
	CompressionThreshold  int    `json:"compression_threshold,omitempty"`
	Minimization          *bool  `json:"minimization,omitempty"`
	VectorSize            int    `json:"vector_size,omitempty"`
	SinglePrecisionFloat  *bool  `json:"single_precision_float,omitempty"`
	StableInserts         *bool  `json:"stable_inserts,omitempty"`
}

// Memory is a byte count parsed from a plain integer or a
// `_kb`/`_mb`/`_gb`-suffixed sibling key (spec §6: "memory_limit,
// memory_limit_kb, memory_limit_mb, memory_limit_gb — at most one may be
// set").
type Memory uint64

// Bytes returns m as a plain byte count.
func (m Memory) Bytes() uint64 { return uint64(m) }

// Load reads path, standardizes it from JSONC to JSON via hujson, and
// unmarshals it into a Config. A missing file is not an error: it
// yields a zero Config, mirroring the teacher's loadConfigFile
// treating ENOENT as "nothing to load" rather than failure.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied, same as the teacher's config loader
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}

		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	return Parse(data)
}

// Parse standardizes JSONC data to JSON and unmarshals it into a
// Config, resolving the memory_limit[_kb|_mb|_gb] family and validating
// every field via Validate.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSONC: %w", ErrInvalidArgument, err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSON: %w", ErrInvalidArgument, err)
	}

	var raw map[string]json.RawMessage

	// Best-effort: already proven to unmarshal above, so this only fails
	// if the top level isn't an object, which the Unmarshal above would
	// also have rejected.
	_ = json.Unmarshal(standardized, &raw)

	mem, err := resolveMemoryLimit(raw)
	if err != nil {
		return Config{}, err
	}

	cfg.MemoryLimit = mem

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// memoryUnits lists the memory_limit family in the precedence order the
// teacher's mergeConfig pattern implies: the plain key, then each
// suffixed variant. Only one may appear.
var memoryUnits = []struct {
	key   string
	scale uint64
}{
	{"memory_limit", 1},
	{"memory_limit_kb", 1 << 10},
	{"memory_limit_mb", 1 << 20},
	{"memory_limit_gb", 1 << 30},
}

func resolveMemoryLimit(raw map[string]json.RawMessage) (Memory, error) {
	var (
		found bool
		key   string
		value Memory
	)

	for _, u := range memoryUnits {
		msg, ok := raw[u.key]
		if !ok {
			continue
		}

		var n uint64
		if err := json.Unmarshal(msg, &n); err != nil {
			return 0, fmt.Errorf("%w: %s: not an integer", ErrInvalidArgument, u.key)
		}

		if found {
			return 0, fmt.Errorf("%w: only one of memory_limit[_kb|_mb|_gb] may be set, got %q and %q", ErrInvalidArgument, key, u.key)
		}

		found = true
		key = u.key
		value = Memory(n * u.scale)
	}

	return value, nil
}

// Validate rejects values hujson/json happily parsed but that make no
// sense for this domain: an unknown compression name, a negative
// threshold or vector size. Unknown JSON keys are never an error here —
// they were already dropped by json.Unmarshal, matching the teacher's
// mergeConfig convention of ignoring fields it doesn't recognize.
func (c Config) Validate() error {
	if _, err := compression.ParseName(c.Compression); err != nil {
		return fmt.Errorf("%w: compression: %w", ErrInvalidArgument, err)
	}

	if c.CompressionThreshold < 0 {
		return fmt.Errorf("%w: compression_threshold must be >= 0, got %d", ErrInvalidArgument, c.CompressionThreshold)
	}

	if c.ParallelSortThreshold < 0 {
		return fmt.Errorf("%w: parallel_sort_threshold must be >= 0, got %d", ErrInvalidArgument, c.ParallelSortThreshold)
	}

	if c.VectorSize < 0 {
		return fmt.Errorf("%w: vector_size must be >= 0, got %d", ErrInvalidArgument, c.VectorSize)
	}

	return nil
}

// CompressionAlgorithm resolves the configured compression name,
// defaulting to compression.None when unset. Config.Validate already
// proved the name parses, so the error here is unreachable in practice
// and only returned to keep the call site honest about failure modes.
func (c Config) CompressionAlgorithm() (compression.Algorithm, error) {
	return compression.ParseName(c.Compression)
}

// MinimizationEnabled reports whether state minimization should run,
// defaulting to true when the key is absent (spec §4.3: minimization is
// on by default).
func (c Config) MinimizationEnabled() bool {
	if c.Minimization == nil {
		return true
	}

	return *c.Minimization
}

// StableInsertsEnabled reports whether the compiler should buffer and
// stable-sort keys instead of requiring pre-sorted ascending input
// (spec §4.3). Off by default: the fast streaming path is the default.
func (c Config) StableInsertsEnabled() bool {
	return c.StableInserts != nil && *c.StableInserts
}

// SinglePrecisionFloatEnabled reports whether float-vector values are
// stored as float32 (the default) rather than float64.
func (c Config) SinglePrecisionFloatEnabled() bool {
	if c.SinglePrecisionFloat == nil {
		return true
	}

	return *c.SinglePrecisionFloat
}

// ToCompilerOptions translates Config into the subset of
// compiler.Options/merger.Options it governs. ValueStoreType isn't a
// config-file concern (spec §6 lists it as a per-call argument, not a
// persisted setting) so callers set it on the returned value themselves.
func (c Config) ToCompilerOptions() (CompilerOptions, error) {
	algo, err := c.CompressionAlgorithm()
	if err != nil {
		return CompilerOptions{}, err
	}

	return CompilerOptions{
		TempDir:               c.TemporaryPath,
		MemoryLimit:           c.MemoryLimit.Bytes(),
		Minimization:          c.MinimizationEnabled(),
		Compression:           algo,
		CompressionThreshold:  c.CompressionThreshold,
		VectorSize:            c.VectorSize,
		StableInserts:         c.StableInsertsEnabled(),
		ParallelSortThreshold: c.ParallelSortThreshold,
	}, nil
}

// CompilerOptions is the config-driven half of compiler.Options /
// merger.Options, kept independent of either package so config has no
// import-cycle risk with the packages it configures: callers copy these
// fields into the concrete Options struct they need.
type CompilerOptions struct {
	TempDir               string
	MemoryLimit           uint64
	Minimization          bool
	Compression           compression.Algorithm
	CompressionThreshold  int
	VectorSize            int
	StableInserts         bool
	ParallelSortThreshold int
}

// ParseMemory parses a plain integer or suffixed ("10mb", "512kb", "2gb")
// string into a Memory value, for command-line-style overrides that
// don't go through a JSONC file. Suffixes are case-insensitive; a bare
// integer is treated as a byte count.
func ParseMemory(s string) (Memory, error) {
	s = strings.TrimSpace(s)

	lower := strings.ToLower(s)

	scale := uint64(1)

	for _, suf := range []struct {
		suffix string
		scale  uint64
	}{
		{"_gb", 1 << 30}, {"gb", 1 << 30},
		{"_mb", 1 << 20}, {"mb", 1 << 20},
		{"_kb", 1 << 10}, {"kb", 1 << 10},
	} {
		if strings.HasSuffix(lower, suf.suffix) {
			s = s[:len(s)-len(suf.suffix)]
			scale = suf.scale

			break
		}
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: memory value %q: %w", ErrInvalidArgument, s, err)
	}

	return Memory(n * scale), nil
}
