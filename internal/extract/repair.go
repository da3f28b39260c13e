package extract

import "strings"

// repair is one class of structural fix. It reports whether it changed
// anything so callers can skip redundant re-parses.
type repair struct {
	name  string
	apply func(string) (string, bool)
}

// repairs run in this order, cumulatively.
var repairs = []repair{
	{"trailing commas", removeTrailingCommas},
	{"missing commas", insertMissingCommas},
	{"single quotes", normalizeSingleQuotes},
	{"bracket balance", rebalance},
}

// removeTrailingCommas drops commas that directly precede a closing bracket.
func removeTrailingCommas(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			end := skipString(s, i)
			b.WriteString(s[i:end])
			i = end - 1
			continue
		}
		if c == ',' {
			if j := skipSpace(s, i+1); j < len(s) && (s[j] == '}' || s[j] == ']') {
				changed = true
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String(), changed
}

// insertMissingCommas adds a comma between a closing bracket and a directly
// following object, array or string.
func insertMissingCommas(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s) + 16)
	changed := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			end := skipString(s, i)
			b.WriteString(s[i:end])
			i = end - 1
			continue
		}
		b.WriteByte(c)
		if c == '}' || c == ']' {
			if j := skipSpace(s, i+1); j < len(s) && (s[j] == '{' || s[j] == '[' || s[j] == '"') {
				b.WriteByte(',')
				changed = true
			}
		}
	}
	return b.String(), changed
}

// normalizeSingleQuotes rewrites single-quoted keys and values as double
// quoted. Tokens whose content holds a double quote or a backslash are left
// alone; rewriting them would need escaping the model did not intend.
func normalizeSingleQuotes(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	prev := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			end := skipString(s, i)
			b.WriteString(s[i:end])
			i = end - 1
			prev = '"'
			continue
		case c == '\'' && tokenStart(prev):
			closing := strings.IndexByte(s[i+1:], '\'')
			if closing < 0 {
				break
			}
			k := i + 1 + closing
			body := s[i+1 : k]
			if strings.ContainsAny(body, "\"\\") || !tokenEnd(s, k+1) {
				break
			}
			b.WriteByte('"')
			b.WriteString(body)
			b.WriteByte('"')
			i = k
			prev = '"'
			changed = true
			continue
		}
		b.WriteByte(c)
		if !isSpace(c) {
			prev = c
		}
	}
	return b.String(), changed
}

func tokenStart(prev byte) bool {
	switch prev {
	case 0, '{', '[', ',', ':':
		return true
	}
	return false
}

func tokenEnd(s string, i int) bool {
	j := skipSpace(s, i)
	if j >= len(s) {
		return true
	}
	switch s[j] {
	case ':', ',', '}', ']':
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// rebalance fixes bracket nesting with an opener stack. Closers with no
// opener are dropped, closers that skip over openers close those first, and
// openers still pending at the end are closed in order. Trailing commas
// exposed by the appended closers are removed.
func rebalance(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var stack []byte
	changed := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			end := skipString(s, i)
			b.WriteString(s[i:end])
			i = end - 1
			continue
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			open := opener(c)
			at := lastIndexByte(stack, open)
			if at < 0 {
				changed = true
				continue
			}
			for len(stack)-1 > at {
				b.WriteByte(closer(stack[len(stack)-1]))
				stack = stack[:len(stack)-1]
				changed = true
			}
			stack = stack[:at]
		}
		b.WriteByte(c)
	}
	for len(stack) > 0 {
		b.WriteByte(closer(stack[len(stack)-1]))
		stack = stack[:len(stack)-1]
		changed = true
	}
	out := b.String()
	if !changed {
		return out, false
	}
	out, _ = removeTrailingCommas(out)
	return out, true
}

func opener(c byte) byte {
	if c == '}' {
		return '{'
	}
	return '['
}

func closer(c byte) byte {
	if c == '{' {
		return '}'
	}
	return ']'
}

func lastIndexByte(stack []byte, c byte) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == c {
			return i
		}
	}
	return -1
}

// repairAll applies every repair class in order.
func repairAll(s string) string {
	for _, r := range repairs {
		s, _ = r.apply(s)
	}
	return s
}
