package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Permission is the typed grant payload owned by an enrollment. It is
// stored as a JSONB column and replaced wholesale on upsert; partial
// edits go through the store's set mutations instead.
//
// The zero value denies everything, so a missing or rejected permission
// blob fails closed.
type Permission struct {
	AccessAllModules bool     `json:"accessAllModules" yaml:"accessAllModules"`
	AllowedModules   []string `json:"allowedModules" yaml:"allowedModules"`
	AllowedContents  []string `json:"allowedContents" yaml:"allowedContents"`
}

// DefaultPermission is the grant the reconciler creates for portals a
// user is missing: full access, no per-node restrictions.
func DefaultPermission() Permission {
	return Permission{
		AccessAllModules: true,
		AllowedModules:   []string{},
		AllowedContents:  []string{},
	}
}

// HasModule reports whether the module id is explicitly allowed.
func (p Permission) HasModule(id string) bool {
	return contains(p.AllowedModules, id)
}

// HasContent reports whether the content id is explicitly allowed.
func (p Permission) HasContent(id string) bool {
	return contains(p.AllowedContents, id)
}

// Normalize brings a permission read from untrusted storage into
// canonical shape: nil slices become empty, duplicates and empty ids are
// dropped. Input order is preserved.
func (p *Permission) Normalize() {
	p.AllowedModules = normalizeSet(p.AllowedModules)
	p.AllowedContents = normalizeSet(p.AllowedContents)
}

// Clone returns a deep copy. Set mutations work on copies so a failed
// write never leaves a half-edited permission behind.
func (p Permission) Clone() Permission {
	out := Permission{
		AccessAllModules: p.AccessAllModules,
		AllowedModules:   make([]string, len(p.AllowedModules)),
		AllowedContents:  make([]string, len(p.AllowedContents)),
	}
	copy(out.AllowedModules, p.AllowedModules)
	copy(out.AllowedContents, p.AllowedContents)
	return out
}

// Value implements driver.Valuer, serializing the normalized permission
// to JSON for the jsonb column.
func (p Permission) Value() (driver.Value, error) {
	c := p.Clone()
	c.Normalize()
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permission: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner. Malformed blobs are rejected with an
// error and leave the zero (deny-all) value in place; a NULL column
// scans to the zero value without error.
func (p *Permission) Scan(src interface{}) error {
	*p = Permission{AllowedModules: []string{}, AllowedContents: []string{}}

	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan permission from %T", src)
	}

	var decoded Permission
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("malformed permission blob: %w", err)
	}
	decoded.Normalize()
	*p = decoded
	return nil
}

func contains(set []string, id string) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

func normalizeSet(set []string) []string {
	out := make([]string, 0, len(set))
	seen := make(map[string]struct{}, len(set))
	for _, id := range set {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
