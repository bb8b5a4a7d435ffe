package prompt

// keycaps maps a candidate ordinal to the symbol shown next to it.
var keycaps = [MaxCandidates]string{
	"1️⃣", "2️⃣", "3️⃣",
	"4️⃣", "5️⃣", "6️⃣",
	"7️⃣", "8️⃣", "9️⃣",
}

// Symbols returns the keycaps for the first n candidates.
func Symbols(n int) []string {
	if n > len(keycaps) {
		n = len(keycaps)
	}
	if n < 0 {
		n = 0
	}
	out := make([]string, n)
	copy(out, keycaps[:n])
	return out
}

// IndexOf returns the 0-based candidate index for a keycap symbol.
func IndexOf(symbol string) (int, bool) {
	for i, s := range keycaps {
		if s == symbol {
			return i, true
		}
	}
	return -1, false
}
