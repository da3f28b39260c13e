package extract

// The helpers in this file walk JSON-ish text byte by byte. They track
// string literals and escapes so that braces, quotes and key names inside
// string values are never mistaken for structure.

// skipString returns the offset just past the closing quote of the string
// literal opening at s[i], or len(s) when the literal is unterminated.
func skipString(s string, i int) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(s)
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// findKey returns the offset just past the colon that follows the first
// object key equal to key at or after from, or -1.
func findKey(s, key string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		end := skipString(s, i)
		if end-i >= 2 && s[end-1] == '"' && s[i+1:end-1] == key {
			if j := skipSpace(s, end); j < len(s) && s[j] == ':' {
				return j + 1
			}
		}
		i = end - 1
	}
	return -1
}

// balancedEnd returns the offset just past the bracket closing the object or
// array opening at s[i]. complete is false when the text ends first or a
// closer of the wrong kind appears; end is then the offset of that closer.
func balancedEnd(s string, i int) (end int, complete bool) {
	var closers []byte
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '"':
			j = skipString(s, j) - 1
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) == 0 || closers[len(closers)-1] != s[j] {
				return j, false
			}
			closers = closers[:len(closers)-1]
			if len(closers) == 0 {
				return j + 1, true
			}
		}
	}
	return len(s), false
}

// arrayObjects returns the raw text of every object that is a direct
// element of the array opening at s[start]. Non-object elements and stray
// tokens are skipped. A trailing object cut off by the end of the text is
// returned as-is.
func arrayObjects(s string, start int) []string {
	var out []string
	for j := start + 1; j < len(s); {
		switch s[j] {
		case ']':
			return out
		case '{':
			end, _ := balancedEnd(s, j)
			out = append(out, s[j:end])
			j = end
		case '[':
			end, _ := balancedEnd(s, j)
			j = end
		case '"':
			j = skipString(s, j)
		default:
			j++
		}
	}
	return out
}

// valueAt returns the raw JSON value text starting at offset i, which
// should point just past a key's colon.
func valueAt(s string, i int) (string, bool) {
	i = skipSpace(s, i)
	if i >= len(s) {
		return "", false
	}
	switch s[i] {
	case '{', '[':
		end, _ := balancedEnd(s, i)
		return s[i:end], true
	case '"':
		end := skipString(s, i)
		return s[i:end], true
	default:
		j := i
		for j < len(s) && s[j] != ',' && s[j] != '}' && s[j] != ']' && s[j] != '\n' {
			j++
		}
		if j == i {
			return "", false
		}
		return s[i:j], true
	}
}
