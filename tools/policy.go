package tools

import (
	"fmt"
	"reflect"
	"strings"
)

// ---------------------------------------------------------------------------
// Policy enforcement
// ---------------------------------------------------------------------------
//
// A policy is a grant table constraining one tool's arguments. Three
// constraint forms exist: "domain" matches the host of a url argument
// (with *.example.com wildcards), "timeout_ms" and any "max_*" key bound
// an integer argument from above, and every other key requires the
// argument to equal the granted value exactly.

// ValidatePolicy checks args against the grant table. Non-map policies or
// args pass vacuously; constraint violations name the offending grant.
func ValidatePolicy(policy map[string]any, args any) error {
	argsObj, ok := args.(map[string]any)
	if !ok {
		return nil
	}
	for key, constraint := range policy {
		switch {
		case key == "domain":
			pattern, ok := constraint.(string)
			if !ok {
				return fmt.Errorf("domain constraint must be a string")
			}
			url, ok := argsObj["url"].(string)
			if !ok {
				return fmt.Errorf("domain policy requires string 'url' argument")
			}
			if !domainMatches(pattern, url) {
				return fmt.Errorf("domain %q does not allow %q", pattern, url)
			}

		case key == "timeout_ms" || strings.HasPrefix(key, "max_"):
			limit, ok := asInt64(constraint)
			if !ok {
				return fmt.Errorf("%s constraint must be an integer", key)
			}
			if actual, ok := asInt64(argsObj[key]); ok && actual > limit {
				return fmt.Errorf("%s %d exceeds allowed %d", key, actual, limit)
			}

		default:
			if actual, present := argsObj[key]; present {
				if !grantEqual(actual, constraint) {
					return fmt.Errorf("argument %q value %v violates required %v", key, actual, constraint)
				}
			}
		}
	}
	return nil
}

// domainMatches compares a URL's host against a grant pattern,
// case-insensitively. A "*.suffix" pattern matches the suffix itself and
// any subdomain of it.
func domainMatches(pattern, url string) bool {
	host := extractHost(url)
	if host == "" {
		return false
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		if strings.EqualFold(host, suffix) {
			return true
		}
		return len(host) > len(suffix)+1 &&
			host[len(host)-len(suffix)-1] == '.' &&
			strings.EqualFold(host[len(host)-len(suffix):], suffix)
	}
	return strings.EqualFold(host, pattern)
}

// extractHost pulls the host out of a URL, ignoring scheme, path and port.
func extractHost(url string) string {
	if _, rest, ok := strings.Cut(url, "://"); ok {
		url = rest
	}
	host, _, _ := strings.Cut(url, "/")
	host, _, _ = strings.Cut(host, ":")
	return host
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// grantEqual compares an argument to a granted value, treating integral
// floats and ints as equal the way JSON round-trips make them.
func grantEqual(a, b any) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi
		}
	}
	return reflect.DeepEqual(a, b)
}
