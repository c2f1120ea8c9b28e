package amm

import (
	"crypto/ed25519"

	"github.com/code-payments/amm-admin/pkg/solana"
)

type GetConfigAccountAddressArgs struct {
	Program ed25519.PublicKey
	Seed    []byte
}

// GetConfigAccountAddress derives the program's config account and its bump.
func GetConfigAccountAddress(args *GetConfigAccountAddressArgs) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		args.Program,
		args.Seed,
	)
}
