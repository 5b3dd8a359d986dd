package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tables holding the records this service manages.
const (
	TableExtensions = "extension_definition"
	TablePackages   = "package_definition"
)

// Record is a stored document. Its "id" key is the primary key.
type Record map[string]any

// ID returns the record's id as a string.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Decode converts the record into a typed struct via its JSON form.
func (r Record) Decode(v any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Records is a table-addressed document store.
type Records interface {
	List(ctx context.Context, table string) ([]Record, error)
	Get(ctx context.Context, table, id string) (Record, error)
	// Create stores rec, assigning an id when it has none, and returns the
	// stored copy.
	Create(ctx context.Context, table string, rec Record) (Record, error)
	// Update merges patch into the stored record. The id never changes.
	Update(ctx context.Context, table, id string, patch Record) (Record, error)
	Delete(ctx context.Context, table, id string) error
}

// ExtensionRecord is the typed view of an extension_definition row.
type ExtensionRecord struct {
	ID           string `json:"-"`
	ExtensionID  string `json:"extensionId"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Code         string `json:"code"`
	CompiledCode string `json:"compiledCode,omitempty"`
	IsEnabled    bool   `json:"isEnabled"`
	IsSystem     bool   `json:"isSystem"`
	Version      string `json:"version,omitempty"`
	Menu         any    `json:"menu,omitempty"`
	CreatedBy    any    `json:"createdBy,omitempty"`
	UpdatedBy    any    `json:"updatedBy,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// PackageTypeApp marks packages that are physically installed.
const PackageTypeApp = "App"

// PackageRecord is the typed view of a package_definition row.
type PackageRecord struct {
	ID          string `json:"-"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	IsSystem    bool   `json:"isSystem"`
	IsEnabled   bool   `json:"isEnabled"`
	Flags       Flags  `json:"flags,omitempty"`
}

// Flags are extra installer arguments. They decode from either a JSON array
// or a whitespace-separated string.
type Flags []string

func (f *Flags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("flags must be a string or string array")
	}
	if s == nil {
		*f = nil
		return nil
	}
	*f = strings.Fields(*s)
	return nil
}

const timeLayout = time.RFC3339Nano

// prepareCreate copies rec, assigns an id and stamps both timestamps.
func prepareCreate(rec Record, now time.Time) Record {
	out := rec.Clone()
	if out == nil {
		out = Record{}
	}
	if out.ID() == "" {
		out["id"] = uuid.NewString()
	} else {
		out["id"] = out.ID()
	}
	ts := now.UTC().Format(timeLayout)
	out["createdAt"] = ts
	out["updatedAt"] = ts
	return out
}

// applyPatch merges patch into existing, keeping id and createdAt.
func applyPatch(existing, patch Record, now time.Time) Record {
	out := existing.Clone()
	for k, v := range patch {
		if k == "id" || k == "createdAt" {
			continue
		}
		out[k] = v
	}
	out["updatedAt"] = now.UTC().Format(timeLayout)
	return out
}
