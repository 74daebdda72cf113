package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to the supervised service.
type Env struct {
	Var Var // variables applied on top of the base (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	e.env = base
}

// WithBase replaces the base environment; used by tests to avoid the OS env.
func (e *Env) WithBase(kvs []string) *Env {
	base := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	e.env = base
	return e
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet is Set in chainable form.
func (e *Env) WithSet(k, v string) *Env {
	e.Set(k, v)
	return e
}

// Lookup returns the composed value of k without expansion.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// AppendPath appends dir to the list variable k (PYTHONPATH style), using the
// value from the base when k has not been set yet. Duplicates are skipped.
func (e *Env) AppendPath(k, dir string) {
	cur, _ := e.Lookup(k)
	if cur == "" {
		e.Set(k, dir)
		return
	}
	for _, p := range strings.Split(cur, string(os.PathListSeparator)) {
		if p == dir {
			e.Set(k, cur)
			return
		}
	}
	e.Set(k, cur+string(os.PathListSeparator)+dir)
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then e.Var overrides
// then extra (slice of "K=V") overrides.
// ${VAR} references are expanded against the composed map (single pass).
// The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extra))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extra {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
