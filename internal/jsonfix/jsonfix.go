// Package jsonfix cleans up the JSON text language models tend to return:
// code fences, leading prose, smart quotes, trailing commas and missing commas
// between adjacent objects.
package jsonfix

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	adjacentObj   = regexp.MustCompile(`}\s*(?:[a-zA-Z]\s*)?{`)
	adjacentArr   = regexp.MustCompile(`]\s*\[`)
	bareKey       = regexp.MustCompile(`([,{]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

var replacer = strings.NewReplacer(
	"\ufeff", "",
	"\u200b", "",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2018", "'",
	"\u2019", "'",
)

// Repair returns a best-effort corrected version of text. Already valid JSON
// is returned trimmed and otherwise untouched.
func Repair(text string) string {
	text = StripFences(strings.TrimSpace(text))
	if json.Valid([]byte(text)) {
		return text
	}

	if start := strings.IndexAny(text, "{["); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndexAny(text, "}]"); end >= 0 && end < len(text)-1 {
		text = text[:end+1]
	}

	text = replacer.Replace(text)
	text = trailingComma.ReplaceAllString(text, "$1")
	text = adjacentObj.ReplaceAllString(text, "},{")
	text = adjacentArr.ReplaceAllString(text, "],[")
	if !json.Valid([]byte(text)) {
		text = quoteKeys(text)
	}
	if !json.Valid([]byte(text)) {
		text = escapeControlInStrings(text)
	}
	return text
}

// StripFences removes a surrounding ```lang ... ``` block.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[nl+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// quoteKeys quotes bare object keys outside string literals.
func quoteKeys(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				b.WriteString(s[last : i+1])
				last = i + 1
				inString = false
			}
			continue
		}
		if c == '"' {
			b.WriteString(bareKey.ReplaceAllString(s[last:i], `$1"$2":`))
			last = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[last:])
	} else {
		b.WriteString(bareKey.ReplaceAllString(s[last:], `$1"$2":`))
	}
	return b.String()
}

// escapeControlInStrings escapes raw newlines and tabs inside string literals.
func escapeControlInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
