package config

import (
	"os"
	"strings"
)

// EnvironmentExpander rewrites placeholders in raw configuration data before it is parsed.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands $VAR, ${VAR} and ${VAR:default} from the process
// environment. An unset variable without a default expands to the empty string;
// a variable set to the empty string does not fall back to the default.
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander creates an expander reading the process environment.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

// Expand implements EnvironmentExpander.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return []byte(os.Expand(string(input), func(placeholder string) string {
		name, def, hasDefault := strings.Cut(placeholder, ":")
		if v, ok := lookup(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})), nil
}
