// Package jsonx holds helpers for pulling JSON out of untrusted free text,
// such as model responses that wrap an object in prose or code fences.
package jsonx

import "strings"

// ExtractObject finds the first balanced brace-delimited span in s. Brace
// counting is string-aware so braces inside JSON strings do not unbalance
// the scan. Returns false when no complete object exists.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
