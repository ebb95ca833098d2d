// Package schema maintains the live, in-memory view of a database's
// tables, indexes, and attached-database registry (§4.K).
package schema

import (
	"strings"
	"sync"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// MaxUserAttachments bounds the attach registry; main/temp are reserved
// and don't count against it (§4.K, "Reserved schema names").
const MaxUserAttachments = 10

// Attachment records one ATTACH'd database file under its schema name.
type Attachment struct {
	Name string // lowercased for case-insensitive lookup
	Path string
}

// AttachRegistry tracks attached databases by case-insensitive name.
// `main` and `temp` are always present and cannot be detached.
type AttachRegistry struct {
	mu    sync.RWMutex
	byName map[string]*Attachment
	order  []string // insertion order, excluding main/temp
}

func NewAttachRegistry() *AttachRegistry {
	r := &AttachRegistry{byName: make(map[string]*Attachment)}
	r.byName["main"] = &Attachment{Name: "main"}
	r.byName["temp"] = &Attachment{Name: "temp"}
	return r
}

func isReserved(name string) bool {
	return name == "main" || name == "temp"
}

// Attach registers a new database file under name. Returns a Misuse
// error if name is already in use (including main/temp) or an Internal
// error if the registry is already at MaxUserAttachments (§4.K scenario 3).
func (r *AttachRegistry) Attach(name, path string) error {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[key]; exists {
		return fsqliteerr.New(fsqliteerr.Misuse, "database %s is already in use", name)
	}
	if len(r.order) >= MaxUserAttachments {
		return fsqliteerr.New(fsqliteerr.Internal, "too many attached databases (max %d)", MaxUserAttachments)
	}
	r.byName[key] = &Attachment{Name: key, Path: path}
	r.order = append(r.order, key)
	return nil
}

// Detach removes a previously attached database. main/temp cannot be
// detached.
func (r *AttachRegistry) Detach(name string) error {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if isReserved(key) {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot detach %s", key)
	}
	if _, exists := r.byName[key]; !exists {
		return fsqliteerr.New(fsqliteerr.Misuse, "no such database: %s", name)
	}
	delete(r.byName, key)
	for i, n := range r.order {
		if n == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Lookup resolves a schema-qualifying name, case-insensitively.
func (r *AttachRegistry) Lookup(name string) (*Attachment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[strings.ToLower(name)]
	return a, ok
}

// Count reports the number of user (non-reserved) attachments.
func (r *AttachRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns every attached schema name including main/temp, main
// first, then temp, then user attachments in attach order.
func (r *AttachRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, 2+len(r.order))
	out = append(out, "main", "temp")
	out = append(out, r.order...)
	return out
}
