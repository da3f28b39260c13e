package extract

import (
	"strings"
	"unicode/utf8"
)

// Byte-order mark and zero-width characters.
const invisibleChars = "\ufeff\u200b\u200c\u200d\u2060"

// Clean strips byte-order marks, zero-width characters and markdown code
// fences. Characters inside string literals are left alone. Text outside a
// fenced block is discarded.
func Clean(raw string) string {
	s := strings.TrimSpace(stripInvisible(raw))
	return strings.TrimSpace(stripFences(s))
}

// stripInvisible removes invisibleChars that appear outside string literals.
func stripInvisible(s string) string {
	if !strings.ContainsAny(s, invisibleChars) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '"' {
			end := skipString(s, i)
			b.WriteString(s[i:end])
			i = end
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError || !strings.ContainsRune(invisibleChars, r) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// stripFences returns the body of the first fenced block. A fence only
// counts at the start of a line, or when the rest of its line is a language
// tag. Neither can occur inside a well-formed string literal, which never
// holds a raw newline.
func stripFences(s string) string {
	open := openingFence(s)
	if open < 0 {
		return s
	}
	body := s[open+3:]
	// Drop the language tag on the opening fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(strings.TrimPrefix(body, "json"), "JSON")
	}
	if end := closingFence(body); end >= 0 {
		body = body[:end]
	}
	return body
}

func openingFence(s string) int {
	for from := 0; ; {
		i := strings.Index(s[from:], "```")
		if i < 0 {
			return -1
		}
		i += from
		if atLineStart(s, i) || isTagLine(s[i+3:]) {
			return i
		}
		from = i + 3
	}
}

// closingFence returns the offset of the first fence in body that ends its
// line, or -1.
func closingFence(body string) int {
	for from := 0; ; {
		i := strings.Index(body[from:], "```")
		if i < 0 {
			return -1
		}
		i += from
		rest := body[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		if strings.TrimSpace(rest) == "" {
			return i
		}
		from = i + 3
	}
}

func atLineStart(s string, i int) bool {
	line := s[:i]
	if nl := strings.LastIndexByte(line, '\n'); nl >= 0 {
		line = line[nl+1:]
	}
	return strings.TrimSpace(line) == ""
}

// isTagLine reports whether rest begins with an optional language tag and
// then a newline.
func isTagLine(rest string) bool {
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return false
	}
	for _, r := range strings.TrimSpace(rest[:nl]) {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '+') {
			return false
		}
	}
	return true
}

// sliceObject returns the substring from the first '{' to the last '}', or
// "" when there is no such span.
func sliceObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
