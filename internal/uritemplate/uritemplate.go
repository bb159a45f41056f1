// ABOUTME: Single-parameter URI template matching for resource URIs
// ABOUTME: Supports patterns of the form scheme://fixed/{param} with prefix matching

package uritemplate

import "strings"

// Matches reports whether uri matches pattern. Patterns without a parameter
// require an exact match; patterns containing "{param}" match any URI that
// starts with the fixed prefix before the brace.
func Matches(uri, pattern string) bool {
	idx := strings.IndexByte(pattern, '{')
	if idx < 0 {
		return uri == pattern
	}
	return strings.HasPrefix(uri, pattern[:idx])
}

// Extract returns the parameter binding for a matching URI. Only a single
// parameter per pattern is supported; its value is the remainder of the URI
// after the fixed prefix. For non-template patterns or non-matching URIs the
// returned map is empty.
func Extract(uri, pattern string) map[string]string {
	params := map[string]string{}

	start := strings.IndexByte(pattern, '{')
	if start < 0 {
		return params
	}
	end := strings.IndexByte(pattern, '}')
	if end < start {
		return params
	}

	prefix := pattern[:start]
	if !strings.HasPrefix(uri, prefix) {
		return params
	}

	params[pattern[start+1:end]] = uri[len(prefix):]
	return params
}
