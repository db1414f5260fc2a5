// Package flagx holds small helpers for pre-scanning command-line flags
// before the main flag set is defined.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// ConfigFileFlags are the flag spellings that select a JSON config file.
var ConfigFileFlags = []string{"-c", "-config", "--config"}

// FilterArgs keeps only the flags named in allowed, together with their
// values. Both "-c value" and "-c=value" forms are recognised; a following
// token that starts with "-" is never consumed as a value.
func FilterArgs(args []string, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := set[name]; ok {
				out = append(out, arg)
			}
			continue
		}

		if _, ok := set[arg]; ok {
			out = append(out, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out = append(out, args[i+1])
				i++
			}
		}
	}

	return out
}

// ConfigFilePath returns the value of -c/-config found in args, or "" when
// none is given. Other flags are ignored so the caller can parse its own
// flag set afterwards without conflicts.
func ConfigFilePath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config-file", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, ConfigFileFlags))

	return path
}
