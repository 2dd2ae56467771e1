// Package params rewrites named (":name") SQL parameters into the
// positional placeholders each engine.Engine dialect expects, and
// validates the supplied argument set against what the template actually
// references.
//
// The tokenizer is hand-rolled: none of the teacher or pack repos carry a
// SQL-aware parameter scanner (burrowctl's queries arrive pre-bound from
// the client), and pulling in a full SQL parser for a single-pass
// "find :name tokens outside strings/comments" scan would be the kind of
// dependency nobody in the corpus reaches for. DESIGN.md records this as
// the one intentional stdlib-only component.
package params

import (
	"fmt"
	"strings"

	"github.com/acuranzo/conduit/internal/engine"
)

// Kind distinguishes the ways a named-parameter processing pass can fail.
type Kind string

const (
	MissingParameter  Kind = "missing_parameter"
	UnusedParameter   Kind = "unused_parameter"
	TypeMismatch      Kind = "type_mismatch"
	TooManyParameters Kind = "too_many_parameters"
)

// MaxParameters is the hard ceiling on ":name" placeholder occurrences in
// a single template; a repeated name counts once per occurrence
// (spec.md §4.3).
const MaxParameters = 100

// Error reports a single named-parameter validation failure.
type Error struct {
	Kind Kind
	Name string
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("params: %s", e.Kind)
	}
	return fmt.Sprintf("params: %s: %q", e.Kind, e.Name)
}

// Placeholder renders the dialect-specific marker for a 1-based bind
// position; each engine.Engine supplies its own (e.g. "$1", "?", ":1").
type Placeholder func(ordinal int) string

// Rewrite scans template for ":name" tokens outside of quoted string
// literals and "--"/"/* */" comments, and replaces each occurrence with
// the dialect-specific placeholder for that occurrence's position. Every
// occurrence gets its own ordinal — a name repeated as [:a, :b, :a, :c]
// produces four placeholders and an order slice of length four,
// [a, b, a, c], not three: repeats are rebound rather than deduplicated,
// since not every dialect's placeholder syntax supports referencing an
// earlier bind position twice. It returns the rewritten SQL, the
// per-occurrence parameter names (for binding argument values in the
// same repeated order via BindArgs), and an error if a referenced name
// has no corresponding argument, an argument goes unreferenced, or more
// than MaxParameters occurrences appear.
//
// Rewrite is idempotent in the sense that re-running it against its own
// output is a no-op: a template with zero ":name" tokens (e.g. one
// produced by a prior Rewrite call) passes through unchanged.
func Rewrite(template string, args map[string]engine.TypedParameter, ph Placeholder) (rewritten string, order []string, err error) {
	tokens, scanErr := scan(template)
	if scanErr != nil {
		return "", nil, scanErr
	}
	if len(tokens) > MaxParameters {
		return "", nil, &Error{Kind: TooManyParameters}
	}

	used := make(map[string]bool, len(tokens))
	var b strings.Builder
	last := 0

	for i, t := range tokens {
		if _, ok := args[t.name]; !ok {
			return "", nil, &Error{Kind: MissingParameter, Name: t.name}
		}
		used[t.name] = true
		order = append(order, t.name)

		b.WriteString(template[last:t.start])
		b.WriteString(ph(i + 1))
		last = t.end
	}
	b.WriteString(template[last:])

	for name := range args {
		if !used[name] {
			return "", nil, &Error{Kind: UnusedParameter, Name: name}
		}
	}

	return b.String(), order, nil
}

// BindArgs returns args in the order Rewrite determined, ready to pass to
// an engine's ExecuteQuery.
func BindArgs(order []string, args map[string]engine.TypedParameter) []engine.TypedParameter {
	out := make([]engine.TypedParameter, len(order))
	for i, name := range order {
		out[i] = args[name]
	}
	return out
}

type token struct {
	name       string
	start, end int
}

// scan performs a single left-to-right pass over sql, tracking whether
// the cursor is inside a single-quoted string, a double-quoted
// identifier, a line comment, or a block comment, and collecting every
// ":name" token it finds outside of those regions. Names must start with
// a letter or underscore and continue with letters, digits, or
// underscores, matching the named-parameter grammar spec.md §4.3 defines.
func scan(sql string) ([]token, error) {
	var tokens []token
	n := len(sql)
	i := 0

	for i < n {
		c := sql[i]
		switch {
		case c == '\'':
			i++
			for i < n {
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '"':
			i++
			for i < n && sql[i] != '"' {
				i++
			}
			i++
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2
		case c == ':' && i+1 < n && isNameStart(sql[i+1]):
			start := i
			j := i + 1
			for j < n && isNameChar(sql[j]) {
				j++
			}
			tokens = append(tokens, token{name: sql[start+1 : j], start: start, end: j})
			i = j
		default:
			i++
		}
	}

	return tokens, nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
