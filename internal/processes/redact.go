package processes

import (
	"net/url"
	"slices"
	"strings"
)

const redacted = "<redacted>"

// flags whose values carry credentials; webhook URLs embed their access key
var sensitiveFlags = []string{
	"--webhook-url",
	"--authorization",
	"--token",
	"--api-key",
	"--aes-key",
	"--password",
	"--secret",
}

// RedactArgs returns a copy of args fit for a process record: values of
// credential flags are replaced, and any other URL argument loses its
// password and query values.
func RedactArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, inline := strings.Cut(arg, "=")
		switch {
		case !isSensitiveFlag(name):
			if inline && strings.HasPrefix(name, "-") {
				out = append(out, name+"="+redactURL(value))
			} else {
				out = append(out, redactURL(arg))
			}
		case inline:
			out = append(out, name+"="+redacted)
		case i+1 < len(args) && !strings.HasPrefix(args[i+1], "-"):
			out = append(out, arg, redacted)
			i++
		default:
			out = append(out, arg)
		}
	}
	return out
}

func isSensitiveFlag(flag string) bool {
	return slices.Contains(sensitiveFlags, strings.ToLower(strings.TrimSpace(flag)))
}

// redactURL masks the password and query values of http(s) URLs and returns
// anything else unchanged.
func redactURL(arg string) string {
	u, err := url.Parse(arg)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return arg
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			query.Set(key, "redacted")
		}
		u.RawQuery = query.Encode()
	}
	return u.String()
}
