package ai

import "strings"

// Sanitize repairs text that is almost-JSON: it strips markdown code fences,
// drops closing brackets that were never opened, closes an unterminated
// string, and appends the closers for any brackets left open. It is a pure
// function and never returns worse-formed output than its input.
func Sanitize(text string) string {
	s := strings.TrimSpace(text)
	s = stripCodeFence(s)

	var (
		out      strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			out.WriteByte(c)
		case '{', '[':
			stack = append(stack, c)
			out.WriteByte(c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
				out.WriteByte(c)
			}
			// unmatched closer: drop
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
				out.WriteByte(c)
			}
		default:
			out.WriteByte(c)
		}
	}

	if inString {
		out.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			out.WriteByte('}')
		case '[':
			out.WriteByte(']')
		}
	}

	return strings.TrimSpace(out.String())
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	trimmed := strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// skip the language tag line (e.g. ```json)
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
