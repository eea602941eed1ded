package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// ValueMatcher matches dimension values against glob patterns.
// A pattern may list alternatives separated by '|'; the matcher
// succeeds when any alternative matches the whole value.
type ValueMatcher struct {
	pattern string
	regexps []*regexp.Regexp
}

// NewValueMatcher compiles a value pattern
func NewValueMatcher(pattern string) (*ValueMatcher, error) {
	alternatives := SplitAlternatives(pattern)

	vm := &ValueMatcher{
		pattern: pattern,
		regexps: make([]*regexp.Regexp, 0, len(alternatives)),
	}

	for _, alt := range alternatives {
		regex, err := globToRegex(alt)
		if err != nil {
			return nil, err
		}
		vm.regexps = append(vm.regexps, regex)
	}

	return vm, nil
}

// MustValueMatcher is like NewValueMatcher but panics on an invalid pattern
func MustValueMatcher(pattern string) *ValueMatcher {
	vm, err := NewValueMatcher(pattern)
	if err != nil {
		panic(err)
	}
	return vm
}

// Match checks if a value matches any alternative
func (vm *ValueMatcher) Match(value string) bool {
	for _, regex := range vm.regexps {
		if regex.MatchString(value) {
			return true
		}
	}
	return false
}

// MatchAny checks if any of the values match
func (vm *ValueMatcher) MatchAny(values []string) bool {
	for _, v := range values {
		if vm.Match(v) {
			return true
		}
	}
	return false
}

// Pattern returns the source pattern
func (vm *ValueMatcher) Pattern() string {
	return vm.pattern
}

// SplitAlternatives splits a pattern on '|', trimming whitespace
func SplitAlternatives(pattern string) []string {
	parts := strings.Split(pattern, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// globToRegex converts a glob pattern to an anchored regular expression.
// Unlike path globs, '*' and '?' also match '/'.
func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			regex.WriteString(".*")
			i++
		case '?':
			regex.WriteString(".")
			i++
		case '[':
			// Character class
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				regex.WriteString("[^")
				j++
			} else {
				regex.WriteString("[")
			}

			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					regex.WriteByte(pattern[j])
					regex.WriteByte(pattern[j+1])
					j += 2
				} else {
					regex.WriteByte(pattern[j])
					j++
				}
			}

			if j < len(pattern) {
				regex.WriteByte(']')
				i = j + 1
			} else {
				// Unclosed bracket, treat as literal
				return regexp.Compile("^" + regexp.QuoteMeta(pattern) + "$")
			}
		case '\\':
			if i+1 < len(pattern) {
				regex.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				regex.WriteString("\\\\")
				i++
			}
		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			regex.WriteByte('\\')
			regex.WriteByte(pattern[i])
			i++
		default:
			regex.WriteByte(pattern[i])
			i++
		}
	}

	regex.WriteString("$")

	return regexp.Compile(regex.String())
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[|")
}

// Identifier maps a value to the executor's job-name alphabet:
// letters, digits and underscores. Runs of other runes collapse to a
// single underscore; leading and trailing underscores are trimmed.
func Identifier(value string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range value {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
