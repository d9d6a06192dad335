package fs20

import (
	"fmt"
	"sort"
)

// Command codes understood by FS20 receivers.
// See http://fhz4linux.info/tiki-index.php?page=FS20%20Protocol
//
// The codes are not an arithmetic progression of the symbols (0x16 is
// unused, 0x10 is the top dim level), so the table is literal.
var commandCodes = map[string]string{
	"off":       "00",
	"dim06":     "01", // brightness level 1 (min)
	"dim12":     "02",
	"dim18":     "03",
	"dim25":     "04",
	"dim31":     "05",
	"dim37":     "06",
	"dim43":     "07",
	"dim50":     "08",
	"dim56":     "09",
	"dim62":     "0A",
	"dim68":     "0B",
	"dim75":     "0C",
	"dim81":     "0D",
	"dim87":     "0E",
	"dim93":     "0F",
	"dim100":    "10", // brightness level 16 (max)
	"on":        "11", // dimmers restore the previous level
	"toggle":    "12",
	"dimup":     "13",
	"dimdown":   "14",
	"dimupdown": "15",
	"sendstate": "17", // bidirectional components only
}

// codeSymbols is the inverse of commandCodes, built once at init.
var codeSymbols = func() map[string]string {
	m := make(map[string]string, len(commandCodes))
	for sym, code := range commandCodes {
		m[code] = sym
	}
	return m
}()

// dimLevels are the 16 dim steps in ascending brightness.
var dimLevels = []struct {
	percent int
	symbol  string
}{
	{6, "dim06"}, {12, "dim12"}, {18, "dim18"}, {25, "dim25"},
	{31, "dim31"}, {37, "dim37"}, {43, "dim43"}, {50, "dim50"},
	{56, "dim56"}, {62, "dim62"}, {68, "dim68"}, {75, "dim75"},
	{81, "dim81"}, {87, "dim87"}, {93, "dim93"}, {100, "dim100"},
}

// CodeOf returns the two hex digit protocol code for a symbolic command.
func CodeOf(symbol string) (string, error) {
	code, ok := commandCodes[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, symbol)
	}
	return code, nil
}

// SymbolOf returns the symbolic command for a protocol code.
// Codes that are not in the table are returned unchanged.
func SymbolOf(code string) string {
	if sym, ok := codeSymbols[code]; ok {
		return sym
	}
	return code
}

// IsCommand reports whether symbol is a known command.
func IsCommand(symbol string) bool {
	_, ok := commandCodes[symbol]
	return ok
}

// Commands returns all command symbols ordered by protocol code.
func Commands() []string {
	syms := make([]string, 0, len(commandCodes))
	for sym := range commandCodes {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool {
		return commandCodes[syms[i]] < commandCodes[syms[j]]
	})
	return syms
}

// DimSymbol maps a brightness percentage to the closest dim command.
// Values <= 0 map to "off" and values >= 100 to "dim100".
func DimSymbol(percent int) string {
	if percent <= 0 {
		return "off"
	}
	best := dimLevels[0]
	bestDiff := abs(percent - best.percent)
	for _, lvl := range dimLevels[1:] {
		if d := abs(percent - lvl.percent); d < bestDiff {
			best, bestDiff = lvl, d
		}
	}
	return best.symbol
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
