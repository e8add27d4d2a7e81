package logging

import (
	"sort"
	"strings"
	"sync"
)

// SecretMask replaces secret values in logs and persisted records.
const SecretMask = "(secret)"

// Redactor masks registered secret values. A nil *Redactor is valid and
// leaves everything untouched.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

// NewRedactor creates a Redactor seeded with the given secrets.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	r.Add(secrets...)
	return r
}

// Add registers secret values. Empty strings are ignored.
func (r *Redactor) Add(secrets ...string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range secrets {
		if s == "" || s == SecretMask || contains(r.secrets, s) {
			continue
		}
		r.secrets = append(r.secrets, s)
	}
	// Longest first so a secret containing another is masked whole.
	sort.SliceStable(r.secrets, func(i, j int) bool {
		return len(r.secrets[i]) > len(r.secrets[j])
	})
}

// Len returns the number of registered secrets.
func (r *Redactor) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.secrets)
}

// Redact returns s with every registered secret replaced by SecretMask.
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return s
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, SecretMask)
	}
	return s
}

// RedactValue returns a copy of v with secrets masked in every string it
// holds. Maps and slices are copied; other values are returned as is.
func (r *Redactor) RedactValue(v any) any {
	if r == nil {
		return v
	}
	switch val := v.(type) {
	case string:
		return r.Redact(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.RedactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.RedactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = r.Redact(item)
		}
		return out
	}
	return v
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
