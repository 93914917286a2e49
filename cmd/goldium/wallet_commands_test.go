package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptApprover(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{name: "yes", answer: "y\n", want: true},
		{name: "full yes", answer: "YES\n", want: true},
		{name: "no", answer: "n\n", want: false},
		{name: "enter defaults to no", answer: "\n", want: false},
		{name: "eof", answer: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			approve := promptApprover(strings.NewReader(tt.answer), &out)
			got, err := approve(context.Background(), wallet.ApprovalRequest{
				Kind:    wallet.KindPhantom,
				Action:  wallet.ActionSign,
				Summary: "send 1 GOLD",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "send 1 GOLD")
			assert.Contains(t, out.String(), "[y/N]")
		})
	}
}

func TestWalletConnectCommand(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "phantom.json")
	key := solanago.NewWallet().PrivateKey
	require.NoError(t, wallet.WriteKeypair(keyPath, key))

	t.Setenv("PHANTOM_KEYPAIR", keyPath)
	t.Setenv("SOLFLARE_KEYPAIR", filepath.Join(dir, "missing.json"))

	t.Run("not installed", func(t *testing.T) {
		out, err := runApp(t, "wallet", "connect", "--wallet", "solflare")
		require.NoError(t, err)
		assert.Contains(t, out, "solflare is not installed")
		assert.Contains(t, out, "https://solflare.com/")
	})

	t.Run("approved", func(t *testing.T) {
		withStdin(t, "y\n")
		out, err := runApp(t, "wallet", "connect", "--wallet", "phantom")
		require.NoError(t, err)
		assert.Contains(t, out, "Connected to phantom")
		assert.Contains(t, out, key.PublicKey().String())
	})

	t.Run("rejected", func(t *testing.T) {
		withStdin(t, "n\n")
		out, err := runApp(t, "wallet", "connect", "--wallet", "phantom")
		require.NoError(t, err)
		assert.Contains(t, out, "rejected")
		assert.NotContains(t, out, key.PublicKey().String())
	})

	t.Run("unknown wallet", func(t *testing.T) {
		_, err := runApp(t, "wallet", "connect", "--wallet", "metamask")
		assert.Error(t, err)
	})
}

// withStdin replaces os.Stdin with input for the rest of the test.
func withStdin(t *testing.T, input string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString(input)
	require.NoError(t, err)
	w.Close()

	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = orig
		r.Close()
	})
}

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	printSnapshot(&out, &poller.BalanceSnapshot{
		NativeAmount:  1.25,
		TokenUIAmount: 300,
		TokenErr:      "rpc timeout",
		FetchedAt:     time.Now(),
	}, false)
	assert.Contains(t, out.String(), "SOL: 1.25  GOLD: 300")
	assert.Contains(t, out.String(), "GOLD balance unavailable: rpc timeout")

	out.Reset()
	printSnapshot(&out, nil, false)
	assert.Contains(t, out.String(), "Disconnected")
}
