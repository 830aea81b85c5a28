// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package statusfd

// The status channel percent-escapes bytes that would collide with the
// line-and-whitespace framing (%25 for '%', %0A for newline, and so on).
// Escapes are decoded before a line is tokenized so that field values may
// contain the framing characters themselves.

// Unescape decodes %XX escapes in place of the escaped bytes. Malformed
// escapes (truncated, or non-hex digits) are passed through unchanged, so
// decoding is total and idempotent on already-decoded text.
func Unescape(s string) string {
	// Fast path: nothing escaped.
	i := 0
	for i < len(s) && s[i] != '%' {
		i++
	}
	if i == len(s) {
		return s
	}

	out := make([]byte, 0, len(s))
	out = append(out, s[:i]...)
	for i < len(s) {
		c := s[i]
		if c == '%' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				i += 3
				continue
			}
		}
		out = append(out, c)
		i++
	}
	return string(out)
}

// Escape encodes the bytes the status channel cannot carry verbatim:
// '%', newline, carriage return, and NUL. Space survives unescaped because
// it only separates fields whose positions are fixed.
func Escape(s string) string {
	needs := 0
	for i := 0; i < len(s); i++ {
		if escapeNeeded(s[i]) {
			needs++
		}
	}
	if needs == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+2*needs)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escapeNeeded(c) {
			out = append(out, '%', hexDigits[c>>4], hexDigits[c&0x0f])
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

const hexDigits = "0123456789ABCDEF"

func escapeNeeded(c byte) bool {
	return c == '%' || c == '\n' || c == '\r' || c == 0
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
