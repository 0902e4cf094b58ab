// Package expand substitutes delimiter-bounded variables such as the
// $RepresentationID$ and $Number$ identifiers of DASH segment templates.
package expand

import (
	"fmt"
	"strings"
)

// DefaultDelimiter is the DASH template identifier delimiter.
const DefaultDelimiter = '$'

// TemplateResolutionError is returned in strict mode when a token has no value.
type TemplateResolutionError struct {
	Token    string
	Template string
}

func (e *TemplateResolutionError) Error() string {
	return fmt.Sprintf("unresolved template token %q in %q", e.Token, e.Template)
}

// Expander replaces tokens of the form <delim>name<delim> with values looked
// up case-insensitively by name. A token may carry a printf width suffix,
// e.g. $Number%05d$. The empty token (<delim><delim>) is passed through as is.
type Expander struct {
	Delimiter byte
	// Strict makes an unknown token an error instead of leaving it in place.
	Strict bool
}

// Expand is a non-strict expansion with the given delimiter.
func Expand(template string, vars map[string]any, delim byte) string {
	out, _ := Expander{Delimiter: delim}.Expand(template, vars)
	return out
}

// Expand performs a single left-to-right pass over template. Inserted values
// are never scanned again, so a value containing the delimiter is safe.
func (e Expander) Expand(template string, vars map[string]any) (string, error) {
	delim := e.Delimiter
	if delim == 0 {
		delim = DefaultDelimiter
	}
	lookup := make(map[string]any, len(vars))
	for name, value := range vars {
		lookup[strings.ToLower(name)] = value
	}

	var sb strings.Builder
	sb.Grow(len(template))
	rest := template
	for {
		open := strings.IndexByte(rest, delim)
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open+1:], delim)
		if end < 0 {
			break
		}
		end += open + 1

		sb.WriteString(rest[:open])
		token := rest[open+1 : end]
		if token == "" {
			sb.WriteString(rest[open : end+1])
			rest = rest[end+1:]
			continue
		}

		name, format, _ := strings.Cut(token, "%")
		value, ok := lookup[strings.ToLower(name)]
		if !ok {
			if e.Strict {
				return "", &TemplateResolutionError{Token: token, Template: template}
			}
			// Keep the opening delimiter and the name; the closing delimiter
			// may start the next token.
			sb.WriteString(rest[open:end])
			rest = rest[end:]
			continue
		}
		sb.WriteString(render(value, format))
		rest = rest[end+1:]
	}
	sb.WriteString(rest)
	return sb.String(), nil
}

func render(value any, format string) string {
	if format == "" {
		return fmt.Sprint(value)
	}
	return fmt.Sprintf("%"+format, value)
}
