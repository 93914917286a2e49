package wallet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKeypair(t *testing.T) (string, solana.PrivateKey) {
	t.Helper()
	key := solana.NewWallet().PrivateKey
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, WriteKeypair(path, key))
	return path, key
}

func TestParseKeypair(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	t.Run("json array", func(t *testing.T) {
		path, want := writeTestKeypair(t)
		got, err := LoadKeypair(path)
		require.NoError(t, err)
		assert.Equal(t, want.PublicKey(), got.PublicKey())
	})

	t.Run("base58 secret", func(t *testing.T) {
		got, err := ParseKeypair([]byte(key.String() + "\n"))
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), got.PublicKey())
	})

	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: "  "},
		{name: "short array", data: "[1,2,3]"},
		{name: "byte out of range", data: "[" + repeatInts(63) + "256]"},
		{name: "bad json", data: "[1,2,"},
		{name: "bad base58", data: "not-base58-0OIl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeypair([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func repeatInts(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += "1,"
	}
	return s
}

func TestKeypairProvider_Installed(t *testing.T) {
	path, _ := writeTestKeypair(t)

	assert.True(t, NewKeypairProvider(KindPhantom, path, nil, testLogger()).Installed())
	assert.False(t, NewKeypairProvider(KindPhantom, filepath.Join(t.TempDir(), "missing.json"), nil, testLogger()).Installed())
	assert.False(t, NewKeypairProvider(KindPhantom, "", nil, testLogger()).Installed())
	assert.False(t, NewKeypairProvider(KindPhantom, t.TempDir(), nil, testLogger()).Installed())
}

func TestKeypairProvider_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("approved", func(t *testing.T) {
		path, key := writeTestKeypair(t)
		var prompts []ApprovalRequest
		approve := func(_ context.Context, req ApprovalRequest) (bool, error) {
			prompts = append(prompts, req)
			return true, nil
		}
		p := NewKeypairProvider(KindSolflare, path, approve, testLogger())

		pub, err := p.Connect(ctx)
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), pub)
		require.Len(t, prompts, 1)
		assert.Equal(t, ActionConnect, prompts[0].Action)
		assert.Equal(t, KindSolflare, prompts[0].Kind)
	})

	t.Run("declined", func(t *testing.T) {
		path, _ := writeTestKeypair(t)
		decline := func(context.Context, ApprovalRequest) (bool, error) { return false, nil }
		p := NewKeypairProvider(KindPhantom, path, decline, testLogger())

		_, err := p.Connect(ctx)
		assert.ErrorIs(t, err, ErrUserRejected)
	})

	t.Run("missing file", func(t *testing.T) {
		p := NewKeypairProvider(KindPhantom, filepath.Join(t.TempDir(), "nope.json"), nil, testLogger())
		_, err := p.Connect(ctx)
		assert.ErrorIs(t, err, ErrNotInstalled)
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "id.json")
		require.NoError(t, os.WriteFile(path, []byte("[1,2]"), 0o600))
		p := NewKeypairProvider(KindPhantom, path, nil, testLogger())
		_, err := p.Connect(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUserRejected)
	})
}

func TestKeypairProvider_SignTransaction(t *testing.T) {
	ctx := context.Background()
	path, key := writeTestKeypair(t)

	approveSign := true
	approve := func(_ context.Context, req ApprovalRequest) (bool, error) {
		if req.Action == ActionSign {
			return approveSign, nil
		}
		return true, nil
	}
	p := NewKeypairProvider(KindPhantom, path, approve, testLogger())

	newTx := func(t *testing.T) *solana.Transaction {
		tx, err := solana.NewTransaction(
			[]solana.Instruction{system.NewTransferInstruction(1, key.PublicKey(), solana.NewWallet().PublicKey()).Build()},
			solana.Hash{},
			solana.TransactionPayer(key.PublicKey()),
		)
		require.NoError(t, err)
		return tx
	}

	err := p.SignTransaction(ctx, newTx(t))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = p.Connect(ctx)
	require.NoError(t, err)

	tx := newTx(t)
	require.NoError(t, p.SignTransaction(ctx, tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())

	approveSign = false
	assert.ErrorIs(t, p.SignTransaction(ctx, newTx(t)), ErrUserRejected)
}

func TestKeypairProvider_LockNotifiesManager(t *testing.T) {
	ctx := context.Background()
	path, _ := writeTestKeypair(t)
	p := NewKeypairProvider(KindPhantom, path, nil, testLogger())
	mgr := NewManager(testLogger(), nil, p)

	res, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)
	require.True(t, res.Success)

	p.Lock()

	assert.False(t, mgr.Connected())
	assert.ErrorIs(t, p.SignTransaction(ctx, &solana.Transaction{}), ErrNotConnected)
}
