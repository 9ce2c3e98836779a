// Package flagx lets several components pick their own flags out of one
// shared os.Args without tripping over each other's unknown flags.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// FilterArgs keeps only the allowed flags from args, together with their
// values. Both "-f value" and "-f=value" forms are recognized, and "--f" is
// treated the same as "-f". A token starting with "-" is never taken as a
// value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[normalize(f)] = struct{}{}
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[normalize(name)]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[normalize(arg)]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}
	return filtered
}

func normalize(name string) string {
	if strings.HasPrefix(name, "--") {
		return name[1:]
	}
	return name
}

// StringValue returns the value of the string flag known under any of names
// ("-c", "-config", ...). The last occurrence wins; "" when absent.
func StringValue(args []string, names ...string) string {
	var value string

	fs := flag.NewFlagSet("flagx", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	for _, n := range names {
		fs.StringVar(&value, strings.TrimLeft(n, "-"), "", "")
	}
	_ = fs.Parse(FilterArgs(args, names))
	return value
}

// JsonConfigFlags returns the config file path given with -c or -config.
func JsonConfigFlags() string {
	return StringValue(os.Args[1:], "-c", "-config")
}
