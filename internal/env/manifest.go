package env

import "strings"

// VersionSeparator splits a package version into the upstream release and
// the site-local modification number, e.g. "1.0.0.sse.1.0.1".
const VersionSeparator = ".sse."

// SplitVersion returns the external (upstream) and internal parts of v.
// internal is empty when v carries no separator.
func SplitVersion(v string) (external, internal string) {
	parts := strings.Split(v, VersionSeparator)
	external = parts[0]
	if len(parts) == 2 {
		internal = parts[1]
	}
	return external, internal
}

// Manifest is the environment contract a packaged service installs before it
// is launched.
type Manifest struct {
	Prefix  string // e.g. COMFYUI
	Root    string // install root of the service
	Version string // "<external>.sse.<internal>" or plain "<external>"
}

func (m Manifest) prefix() string {
	return strings.ToUpper(strings.TrimSpace(m.Prefix))
}

// RootKey is the variable that points at the install root.
func (m Manifest) RootKey() string { return "REZ_" + m.prefix() + "_ROOT" }

// Apply installs the manifest variables into e:
//
//	REZ_<PREFIX>_ROOT     = Root
//	PYTHONPATH           += Root
//	<PREFIX>_VER          = external version
//	<PREFIX>_SSE_VERSION  = internal version, or external when there is none
func (m Manifest) Apply(e *Env) {
	if m.prefix() == "" {
		return
	}
	if m.Root != "" {
		e.Set(m.RootKey(), m.Root)
		e.AppendPath("PYTHONPATH", m.Root)
	}
	if m.Version == "" {
		return
	}
	ext, internal := SplitVersion(m.Version)
	e.Set(m.prefix()+"_VER", ext)
	if internal == "" {
		internal = ext
	}
	e.Set(m.prefix()+"_SSE_VERSION", internal)
}
