package solana

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "system program", input: "11111111111111111111111111111111"},
		{name: "gold mint", input: "APkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump"},
		{name: "usdc mint", input: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
		{name: "surrounding whitespace", input: "  9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM "},
		{name: "empty", input: "", wantErr: true},
		{name: "too short", input: "1111111111111111111111111111111", wantErr: true},
		{name: "too long", input: strings.Repeat("A", 45), wantErr: true},
		{name: "zero is not base58", input: "0PkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump", wantErr: true},
		{name: "capital O is not base58", input: "OPkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump", wantErr: true},
		{name: "lowercase l is not base58", input: "lPkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump", wantErr: true},
		{name: "ethereum address", input: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, err := ValidateAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				assert.False(t, IsValidAddress(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.input), pk.String())
			assert.True(t, IsValidAddress(tt.input))
		})
	}
}

func TestValidateTransferAmount(t *testing.T) {
	balance := 10.0

	tests := []struct {
		name       string
		input      string
		balance    *float64
		want       float64
		wantReason string
	}{
		{name: "valid", input: "1.5", balance: &balance, want: 1.5},
		{name: "exact balance", input: "10", balance: &balance, want: 10},
		{name: "unknown balance", input: "1000", balance: nil, want: 1000},
		{name: "empty", input: "  ", balance: &balance, wantReason: "amount is required"},
		{name: "not a number", input: "abc", balance: &balance, wantReason: "must be a number"},
		{name: "NaN", input: "NaN", balance: &balance, wantReason: "must be a number"},
		{name: "infinity", input: "Inf", balance: &balance, wantReason: "must be a number"},
		{name: "zero", input: "0", balance: &balance, wantReason: "must be greater than zero"},
		{name: "negative", input: "-1", balance: &balance, wantReason: "must be greater than zero"},
		{name: "exponent", input: "1e3", balance: nil, wantReason: "must be a number"},
		{name: "hex float", input: "0x1p-2", balance: nil, wantReason: "must be a number"},
		{name: "negative garbage", input: "-abc", balance: nil, wantReason: "must be a number"},
		{name: "over balance", input: "10.000001", balance: &balance, wantReason: "insufficient balance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateTransferAmount(tt.input, tt.balance)
			if tt.wantReason != "" {
				require.Error(t, err)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "amount", ve.Field)
				assert.Equal(t, tt.wantReason, ve.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateTransferBaseUnits(t *testing.T) {
	// 9007199.254740994 GOLD at 9 decimals is beyond float64's exact integer range.
	balance := uint64(9_007_199_254_740_994)
	full := uint64(9_007_199_254_741_001)

	tests := []struct {
		name       string
		input      string
		balance    *uint64
		want       uint64
		wantReason string
	}{
		{name: "one base unit over", input: "9007199.254740995", balance: &balance, wantReason: "insufficient balance"},
		{name: "exact balance", input: "9007199.254740994", balance: &balance, want: balance},
		{name: "exact large balance", input: "9007199.254741001", balance: &full, want: full},
		{name: "unknown balance", input: "1.5", balance: nil, want: 1_500_000_000},
		{name: "too many decimals", input: "0.0000000001", balance: nil, wantReason: "at most 9 decimal places are allowed"},
		{name: "exponent", input: "1e3", balance: nil, wantReason: "must be a number"},
		{name: "zero", input: "0.000", balance: &balance, wantReason: "must be greater than zero"},
		{name: "negative", input: "-2", balance: &balance, wantReason: "must be greater than zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateTransferBaseUnits(tt.input, 9, tt.balance)
			if tt.wantReason != "" {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantReason, ve.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		input    string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{input: "1", decimals: 9, want: 1_000_000_000},
		{input: "1.5", decimals: 9, want: 1_500_000_000},
		{input: "0.000000001", decimals: 9, want: 1},
		{input: ".25", decimals: 2, want: 25},
		{input: "3.10", decimals: 1, want: 31},
		{input: "0", decimals: 9, want: 0},
		{input: "42", decimals: 0, want: 42},
		{input: "0.0000000001", decimals: 9, wantErr: true},
		{input: "-1", decimals: 9, wantErr: true},
		{input: "1e3", decimals: 9, wantErr: true},
		{input: "0x1p-2", decimals: 9, wantErr: true},
		{input: "1.2.3", decimals: 9, wantErr: true},
		{input: ".", decimals: 9, wantErr: true},
		{input: "99999999999999999999", decimals: 9, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ToBaseUnits(tt.input, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFloatToBaseUnits(t *testing.T) {
	got, err := FloatToBaseUnits(0.1+0.2, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000_000), got)

	_, err = FloatToBaseUnits(math.NaN(), 9)
	assert.Error(t, err)
}

func TestFormatBaseUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatBaseUnits(1_500_000_000, 9))
	assert.Equal(t, "0.000000001", FormatBaseUnits(1, 9))
	assert.Equal(t, "0", FormatBaseUnits(0, 9))
	assert.Equal(t, "12", FormatBaseUnits(12, 0))
	assert.Equal(t, "100", FormatBaseUnits(100_000_000_000, 9))
}

func TestFromBaseUnits(t *testing.T) {
	assert.InDelta(t, 2.5, FromBaseUnits(2_500_000_000, 9), 1e-12)
	assert.InDelta(t, 0.01, FromBaseUnits(10_000, 6), 1e-12)
}
