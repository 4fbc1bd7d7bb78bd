package bridge

import "strings"

// oscFilteredCodes are the OSC command codes whose sequences get stripped
// from the stream: palette and color queries (4, 10, 11, 12) and clipboard
// (52). Their query/response round-trips are meaningless to a non-terminal
// rendering surface and show up as garbage if forwarded.
var oscFilteredCodes = map[int]bool{
	4:  true,
	10: true,
	11: true,
	12: true,
	52: true,
}

// FilterResponses strips terminal query/response escape sequences that
// would otherwise leak into the rendered output: OSC color/clipboard
// sequences (ESC ] code ; params BEL-or-ST) and DCS sequences
// (ESC P payload ST). Everything else, including incomplete sequences cut
// off at a chunk boundary, passes through unchanged; for input with no
// such sequences this is the identity.
func FilterResponses(s string) string {
	if !strings.ContainsRune(s, 0x1b) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == 0x1b {
			if end, ok := matchFiltered(s, i); ok {
				i = end
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// matchFiltered reports whether a strippable sequence starts at s[i] and,
// if so, the index just past its terminator.
func matchFiltered(s string, i int) (int, bool) {
	if i+1 >= len(s) {
		return 0, false
	}
	switch s[i+1] {
	case ']':
		return matchOSC(s, i+2)
	case 'P':
		return matchDCS(s, i+2)
	}
	return 0, false
}

// matchOSC structurally matches code ; params (BEL | ESC \) starting at j.
func matchOSC(s string, j int) (int, bool) {
	code := 0
	digits := 0
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		code = code*10 + int(s[j]-'0')
		digits++
		j++
	}
	if digits == 0 || j >= len(s) || s[j] != ';' {
		return 0, false
	}
	if !oscFilteredCodes[code] {
		return 0, false
	}
	for k := j + 1; k < len(s); k++ {
		switch {
		case s[k] == 0x07:
			return k + 1, true
		case s[k] == 0x1b && k+1 < len(s) && s[k+1] == '\\':
			return k + 2, true
		}
	}
	// No terminator in this chunk: leave the bytes alone.
	return 0, false
}

// matchDCS scans for the ST terminator of a DCS sequence starting at j.
func matchDCS(s string, j int) (int, bool) {
	for k := j; k < len(s); k++ {
		if s[k] == 0x1b && k+1 < len(s) && s[k+1] == '\\' {
			return k + 2, true
		}
	}
	return 0, false
}
