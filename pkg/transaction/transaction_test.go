package transaction

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/amm-admin/pkg/solana"
	"github.com/code-payments/amm-admin/pkg/testutil"
)

type testEnv struct {
	server *testutil.RPCServer
	client solana.Client

	payer    ed25519.PrivateKey
	admin    ed25519.PrivateKey
	program  ed25519.PublicKey
	config   ed25519.PublicKey
	pnlOwner ed25519.PublicKey

	assembler *Assembler
}

func setup(t *testing.T) *testEnv {
	server := testutil.NewRPCServer(t)
	client := solana.NewWithConfig(server.URL(), solana.RetryConfig{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     time.Millisecond,
		RequestTimeout: 5 * time.Second,
	})

	keys := testutil.GenerateSolanaKeys(t, 3)
	return &testEnv{
		server:    server,
		client:    client,
		payer:     testutil.GenerateSolanaKeypair(t),
		admin:     testutil.GenerateSolanaKeypair(t),
		program:   keys[0],
		config:    keys[1],
		pnlOwner:  keys[2],
		assembler: NewAssembler(client),
	}
}

func (e *testEnv) instruction() solana.Instruction {
	return solana.NewInstruction(
		e.program,
		[]byte{14},
		solana.NewReadonlyAccountMeta(e.admin.Public().(ed25519.PublicKey), true),
		solana.NewAccountMeta(e.config, false),
		solana.NewReadonlyAccountMeta(e.pnlOwner, false),
	)
}

func (e *testEnv) payerPublic() ed25519.PublicKey {
	return e.payer.Public().(ed25519.PublicKey)
}

func (e *testEnv) adminPublic() ed25519.PublicKey {
	return e.admin.Public().(ed25519.PublicKey)
}

func randomBlockhash(t *testing.T) solana.Blockhash {
	var bh solana.Blockhash
	_, err := rand.Read(bh[:])
	require.NoError(t, err)
	return bh
}

func blockhashReply(bh solana.Blockhash) testutil.RPCReply {
	return testutil.LatestBlockhashReply(base58.Encode(bh[:]))
}
