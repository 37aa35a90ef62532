package explain

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// decodeStringLiteral decodes the source text of a python string literal. It
// reports false for anything that is not a plain text literal: f-strings, t-strings
// and bytes.
func decodeStringLiteral(text string) (string, bool) {
	i := 0
	for i < len(text) && text[i] != '"' && text[i] != '\'' {
		i++
	}
	if i == len(text) {
		return "", false
	}
	prefix := strings.ToLower(text[:i])
	raw := false
	for _, c := range prefix {
		switch c {
		case 'r':
			raw = true
		case 'u':
		default:
			// f, b, t or anything unexpected.
			return "", false
		}
	}

	rest := text[i:]
	quote := rest[:1]
	if len(rest) >= 6 && (strings.HasPrefix(rest, `"""`) || strings.HasPrefix(rest, `'''`)) {
		quote = rest[:3]
	}
	if len(rest) < 2*len(quote) || !strings.HasSuffix(rest, quote) {
		return "", false
	}
	body := rest[len(quote) : len(rest)-len(quote)]
	if raw {
		return body, true
	}
	return unescape(body), true
}

// unescape applies python's escape sequences to a non-raw literal body. Unknown
// escapes are kept verbatim, as python does. \N{...} escapes are kept verbatim.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			i++
			continue
		}
		next := s[i+1]
		switch next {
		case '\n':
			i += 2
		case '\r':
			i += 2
			if i < len(s) && s[i] == '\n' {
				i++
			}
		case '\\', '\'', '"':
			b.WriteByte(next)
			i += 2
		case 'a':
			b.WriteByte('\a')
			i += 2
		case 'b':
			b.WriteByte('\b')
			i += 2
		case 'f':
			b.WriteByte('\f')
			i += 2
		case 'n':
			b.WriteByte('\n')
			i += 2
		case 'r':
			b.WriteByte('\r')
			i += 2
		case 't':
			b.WriteByte('\t')
			i += 2
		case 'v':
			b.WriteByte('\v')
			i += 2
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i + 1
			for j < len(s) && j < i+4 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i+1:j], 8, 32)
			b.WriteRune(rune(v))
			i = j
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[next]
			if r, ok := hexRune(s, i+2, width); ok {
				b.WriteRune(r)
				i += 2 + width
			} else {
				b.WriteString(s[i : i+2])
				i += 2
			}
		default:
			b.WriteByte('\\')
			i++
		}
	}
	return b.String()
}

func hexRune(s string, start, width int) (rune, bool) {
	if start+width > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[start:start+width], 16, 32)
	if err != nil || v > utf8.MaxRune {
		return 0, false
	}
	return rune(v), true
}
