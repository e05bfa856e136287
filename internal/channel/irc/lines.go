package irc

import (
	"strings"
	"unicode/utf8"
)

// maxLineBytes leaves room for the PRIVMSG prefix within the 512 byte
// protocol limit.
const maxLineBytes = 400

// splitLines breaks text into PRIVMSG payloads: one per input line, blank
// lines dropped, long lines wrapped at the last space that fits or else
// at a rune boundary.
func splitLines(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r \t")
		for len(line) > max {
			cut := wrapAt(line, max)
			out = append(out, strings.TrimRight(line[:cut], " "))
			line = strings.TrimLeft(line[cut:], " ")
		}
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// wrapAt returns where to cut a line longer than max.
func wrapAt(line string, max int) int {
	if i := strings.LastIndexByte(line[:max+1], ' '); i > 0 {
		return i
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}
