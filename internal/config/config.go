// Package config loads the pragmas-overrides file described in
// SPEC_FULL.md §6: an optional JSON-with-comments document applied on top
// of page.DefaultPragmas before a fresh header page is written.
//
// Grounded on the teacher's root config.go: hujson.Standardize followed by
// json.Unmarshal, with unknown keys rejected the same way.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/pagedb/enginecore/internal/page"
)

// Overrides is the on-disk shape of a pragmas-overrides file: every field
// is a pointer so "not present" and "present but zero" are distinguishable,
// matching spec.md §6's Pragmas table.
type Overrides struct {
	UserVersion *uint32 `json:"user_version,omitempty"` //nolint:tagliatelle
	Collation   *string `json:"collation,omitempty"`
	TimeoutSecs *uint32 `json:"timeout_secs,omitempty"` //nolint:tagliatelle
	LimitSize   *uint64 `json:"limit_size,omitempty"`   //nolint:tagliatelle
	UTCDate     *bool   `json:"utc_date,omitempty"`      //nolint:tagliatelle
	Checkpoint  *uint32 `json:"checkpoint,omitempty"`
}

// errConfigFileRead wraps a LoadFile read failure for any reason other than
// the file not existing (a missing file is not an error).
var errConfigFileRead = fmt.Errorf("config: failed to read overrides file")

// Load parses a JSONC overrides document and applies it on top of base,
// returning the merged Pragmas. An empty data slice returns base
// unchanged.
func Load(data []byte, base page.Pragmas) (page.Pragmas, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return base, nil
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return page.Pragmas{}, fmt.Errorf("config: invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var overrides Overrides
	if err := dec.Decode(&overrides); err != nil {
		return page.Pragmas{}, fmt.Errorf("config: invalid overrides document: %w", err)
	}

	return apply(base, overrides), nil
}

// LoadFile reads and parses the overrides file at path. A missing file is
// not an error: base is returned unchanged, matching the teacher's
// "optional project config" precedent.
func LoadFile(path string, base page.Pragmas) (page.Pragmas, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled, same as teacher's loader
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}

		return page.Pragmas{}, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}

	return Load(data, base)
}

func apply(base page.Pragmas, o Overrides) page.Pragmas {
	if o.UserVersion != nil {
		base.UserVersion = *o.UserVersion
	}

	if o.Collation != nil {
		base.Collation = *o.Collation
	}

	if o.TimeoutSecs != nil {
		base.TimeoutSecs = *o.TimeoutSecs
	}

	if o.LimitSize != nil {
		base.LimitSize = *o.LimitSize
	}

	if o.UTCDate != nil {
		base.UTCDate = *o.UTCDate
	}

	if o.Checkpoint != nil {
		base.Checkpoint = *o.Checkpoint
	}

	return base
}

// Format renders pragmas as indented JSON, mirroring the teacher's
// FormatConfig used by its "show config" command.
func Format(p page.Pragmas) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: failed to format pragmas: %w", err)
	}

	return string(data), nil
}
