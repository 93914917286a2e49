package solana

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestHistoryFilter(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	goldMint := testGoldMint.String()

	send := &Transaction{Signature: "a", Type: TypeSend, BlockTime: base, Amount: ptr(1.5), Token: "SOL"}
	receive := &Transaction{Signature: "b", Type: TypeReceive, BlockTime: base.Add(-24 * time.Hour), Amount: ptr(250.0), Token: "GOLD", TokenMint: &goldMint}
	nft := &Transaction{Signature: "c", Type: TypeNFT, BlockTime: base.Add(-48 * time.Hour), Token: "SOL"}
	all := []*Transaction{send, receive, nft}

	tests := []struct {
		name   string
		filter HistoryFilter
		want   []string
	}{
		{name: "zero filter keeps everything", filter: HistoryFilter{}, want: []string{"a", "b", "c"}},
		{name: "type all keeps everything", filter: HistoryFilter{Type: TypeAll, Token: "all"}, want: []string{"a", "b", "c"}},
		{name: "by type", filter: HistoryFilter{Type: TypeReceive}, want: []string{"b"}},
		{name: "from is inclusive", filter: HistoryFilter{From: ptr(base.Add(-24 * time.Hour))}, want: []string{"a", "b"}},
		{name: "to is inclusive", filter: HistoryFilter{To: ptr(base.Add(-24 * time.Hour))}, want: []string{"b", "c"}},
		{name: "min amount skips records without amount", filter: HistoryFilter{MinAmount: ptr(2.0)}, want: []string{"b", "c"}},
		{name: "max amount", filter: HistoryFilter{MaxAmount: ptr(2.0)}, want: []string{"a", "c"}},
		{name: "token label is case insensitive", filter: HistoryFilter{Token: "gold"}, want: []string{"b"}},
		{name: "token by mint", filter: HistoryFilter{Token: goldMint}, want: []string{"b"}},
		{name: "token SOL", filter: HistoryFilter{Token: "SOL"}, want: []string{"a", "c"}},
		{name: "combined", filter: HistoryFilter{Type: TypeSend, Token: "GOLD"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(all)
			sigs := make([]string, 0, len(got))
			for _, txn := range got {
				sigs = append(sigs, txn.Signature)
			}
			assert.Equal(t, tt.want, sigs)
		})
	}
}

func TestHistoryFilter_UndatedRecord(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	undated := &Transaction{Signature: "d", Type: TypeUnknown, Token: "SOL"}

	tests := []struct {
		name   string
		filter HistoryFilter
		want   bool
	}{
		{name: "from", filter: HistoryFilter{From: ptr(base)}, want: true},
		{name: "to", filter: HistoryFilter{To: ptr(base)}, want: true},
		{name: "range", filter: HistoryFilter{From: ptr(base.Add(-time.Hour)), To: ptr(base)}, want: true},
		{name: "other criteria still apply", filter: HistoryFilter{From: ptr(base), Type: TypeSend}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(undated))
		})
	}
}

func TestHistoryFilter_MatchNil(t *testing.T) {
	assert.False(t, HistoryFilter{}.Match(nil))
}
