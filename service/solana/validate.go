package solana

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	minAddressLength = 32
	maxAddressLength = 44
)

// ValidationError reports bad user input. Callers surface it inline
// rather than treating it as an operational failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err (or anything it wraps) is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateAddress checks that s is a base58 string of 32 to 44 characters
// that decodes to a 32-byte public key.
func ValidateAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, &ValidationError{Field: "address", Reason: "address is required"}
	}
	if len(s) < minAddressLength || len(s) > maxAddressLength {
		return solana.PublicKey{}, &ValidationError{
			Field:  "address",
			Reason: fmt.Sprintf("length must be between %d and %d characters", minAddressLength, maxAddressLength),
		}
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, &ValidationError{Field: "address", Reason: "not a base58 string"}
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, &ValidationError{Field: "address", Reason: "does not decode to a 32-byte public key"}
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// IsValidAddress is the boolean form of ValidateAddress.
func IsValidAddress(s string) bool {
	_, err := ValidateAddress(s)
	return err == nil
}

// ValidateTransferAmount parses a UI amount entered by the user. It rejects
// empty, non-numeric, NaN, infinite, zero and negative input, and when
// balance is known, anything larger than it. Only plain decimal notation is
// accepted, so exponents and hex floats fail the same way ToBaseUnits does.
func ValidateTransferAmount(input string, balance *float64) (float64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, &ValidationError{Field: "amount", Reason: "amount is required"}
	}
	if _, _, err := parseDecimal(input); err != nil {
		return 0, err
	}
	amount, err := strconv.ParseFloat(input, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, &ValidationError{Field: "amount", Reason: "must be a number"}
	}
	if amount <= 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if balance != nil && amount > *balance {
		return 0, &ValidationError{Field: "amount", Reason: "insufficient balance"}
	}
	return amount, nil
}

// ValidateTransferBaseUnits validates input like ValidateTransferAmount and
// converts it to base units. The balance comparison is done on integer base
// units so large balances are compared exactly.
func ValidateTransferBaseUnits(input string, decimals uint8, balance *uint64) (uint64, error) {
	if _, err := ValidateTransferAmount(input, nil); err != nil {
		return 0, err
	}
	amount, err := ToBaseUnits(input, decimals)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if balance != nil && amount > *balance {
		return 0, &ValidationError{Field: "amount", Reason: "insufficient balance"}
	}
	return amount, nil
}

// ToBaseUnits converts a decimal UI amount such as "1.5" into integer base
// units using exact arithmetic. More fractional digits than decimals is an error.
func ToBaseUnits(amount string, decimals uint8) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, &ValidationError{Field: "amount", Reason: "amount is required"}
	}
	whole, frac, err := parseDecimal(amount)
	if err != nil {
		return 0, err
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(decimals) {
		return 0, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("at most %d decimal places are allowed", decimals),
		}
	}

	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", int(decimals)-len(frac)), "0")
	if digits == "" {
		return 0, nil
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return 0, &ValidationError{Field: "amount", Reason: "must be a number"}
	}
	if !n.IsUint64() {
		return 0, &ValidationError{Field: "amount", Reason: "too large"}
	}
	return n.Uint64(), nil
}

// parseDecimal splits a plain non-negative decimal ("12", "+1.5", ".25")
// into its whole and fractional digits.
func parseDecimal(s string) (whole, frac string, err error) {
	if strings.HasPrefix(s, "-") {
		if _, _, err := parseDecimal(s[1:]); err != nil {
			return "", "", err
		}
		return "", "", &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, _ = strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return "", "", &ValidationError{Field: "amount", Reason: "must be a number"}
	}
	if !isDigits(whole) || !isDigits(frac) {
		return "", "", &ValidationError{Field: "amount", Reason: "must be a number"}
	}
	return whole, frac, nil
}

// FloatToBaseUnits converts a float UI amount, rounding to decimals places.
func FloatToBaseUnits(amount float64, decimals uint8) (uint64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, &ValidationError{Field: "amount", Reason: "must be a number"}
	}
	return ToBaseUnits(strconv.FormatFloat(amount, 'f', int(decimals), 64), decimals)
}

// FromBaseUnits converts integer base units to a UI amount.
func FromBaseUnits(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}

// FormatBaseUnits renders base units as an exact decimal string.
func FormatBaseUnits(amount uint64, decimals uint8) string {
	s := strconv.FormatUint(amount, 10)
	if decimals == 0 {
		return s
	}
	if len(s) <= int(decimals) {
		s = strings.Repeat("0", int(decimals)-len(s)+1) + s
	}
	whole, frac := s[:len(s)-int(decimals)], strings.TrimRight(s[len(s)-int(decimals):], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
