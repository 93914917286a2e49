package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExplorer(t *testing.T) {
	sig := "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
	addr := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	mint := "APkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump"

	t.Run("mainnet has no cluster param", func(t *testing.T) {
		e := NewExplorer("", "mainnet")
		assert.Equal(t, "https://explorer.solana.com/tx/"+sig, e.Transaction(sig))
		assert.Equal(t, "https://explorer.solana.com/address/"+addr, e.Address(addr))
		assert.Equal(t, "https://explorer.solana.com/address/"+mint, e.Token(mint))
	})

	t.Run("devnet adds cluster", func(t *testing.T) {
		e := NewExplorer("https://explorer.solana.com/", "devnet")
		assert.Equal(t, "https://explorer.solana.com/tx/"+sig+"?cluster=devnet", e.Transaction(sig))
		assert.Equal(t, "https://explorer.solana.com/address/"+addr+"?cluster=devnet", e.Address(addr))
	})

	t.Run("testnet adds cluster", func(t *testing.T) {
		e := NewExplorer("", "testnet")
		assert.Equal(t, "https://explorer.solana.com/address/"+mint+"?cluster=testnet", e.Token(mint))
	})
}
