package osc

import (
	"regexp"
	"strings"
	"sync"
)

////
// Utility and helper functions
////
var (
	bPool = sync.Pool{
		New: func() any {
			b := make([]byte, MaxPacketSize)
			return &b
		},
	}

	patternReplacer = strings.NewReplacer(
		".", `\.`,
		"(", `\(`,
		")", `\)`,
		"+", `\+`,
		"$", `\$`,
		"^", `\^`,
		"|", `\|`,
		"*", "[^/]*",
		"{", "(",
		",", "|",
		"}", ")",
		"?", "[^/]",
		"[!", "[^",
	)
)

// getRegEx compiles the OSC address pattern into an anchored regular
// expression.
func getRegEx(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^" + patternReplacer.Replace(pattern) + "$")
}
