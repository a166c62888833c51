package config

import (
	"os"
	"strings"
)

// interpolateEnv expands ${VAR} and ${VAR:-default} references in raw
// against the process environment, applied to the YAML bytes before
// unmarshaling. No example repo in the pack performs this over YAML, so
// it is written directly against os.Expand rather than adopting an
// unrelated templating engine for what is a few lines of logic.
func interpolateEnv(raw []byte) []byte {
	return []byte(os.Expand(string(raw), lookupWithDefault))
}

func lookupWithDefault(ref string) string {
	name, def, hasDefault := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}
