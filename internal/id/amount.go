package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	oerr "github.com/outcome-labs/oswap/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// NormalizeAmount accepts either a base-unit integer string or a decimal
// string and returns both representations.
func NormalizeAmount(baseUnits, decimal string, decimals int) (string, string, error) {
	if baseUnits != "" && decimal != "" {
		return "", "", oerr.New(oerr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return "", "", oerr.New(oerr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", oerr.New(oerr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		if strings.HasPrefix(baseUnits, "-") {
			return "", "", oerr.New(oerr.CodeUsage, "--amount must be non-negative")
		}
		if _, ok := new(big.Int).SetString(baseUnits, 10); !ok {
			return "", "", oerr.New(oerr.CodeUsage, "--amount must be a positive integer string")
		}
		return baseUnits, FormatDecimal(baseUnits, decimals), nil
	}

	if !decimalPattern.MatchString(decimal) {
		return "", "", oerr.New(oerr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	base, err := DecimalToBaseUnits(decimal, decimals)
	if err != nil {
		return "", "", err
	}
	return base, normalizeDecimal(decimal), nil
}

// FormatDecimal renders a base-unit integer string as a decimal string.
func FormatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	if _, ok := n.SetString(baseUnits, 10); !ok {
		return baseUnits
	}
	if decimals == 0 {
		return n.String()
	}

	s := n.String()
	if len(s) <= decimals {
		pad := strings.Repeat("0", decimals-len(s)+1)
		s = pad + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// FormatBig renders a big integer amount as a decimal string.
func FormatBig(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return FormatDecimal(amount.String(), decimals)
}

// DecimalToBaseUnits converts a decimal string to a base-unit integer string.
func DecimalToBaseUnits(decimal string, decimals int) (string, error) {
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return "", oerr.New(oerr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}

	fracPart += strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		combined = "0"
	}
	return combined, nil
}

func normalizeDecimal(decimal string) string {
	if !strings.Contains(decimal, ".") {
		return decimal
	}
	trimmed := strings.TrimRight(decimal, "0")
	trimmed = strings.TrimSuffix(trimmed, ".")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
