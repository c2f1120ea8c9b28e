package amm

import (
	"crypto/ed25519"

	"github.com/code-payments/amm-admin/pkg/solana"
)

const (
	CreateConfigAccountInstructionArgsSize = 0
)

type CreateConfigAccountInstructionAccounts struct {
	Program   ed25519.PublicKey
	Admin     ed25519.PublicKey
	AmmConfig ed25519.PublicKey
	PnlOwner  ed25519.PublicKey
}

// NewCreateConfigAccountInstruction builds the instruction that initializes
// the program's config account. The config account is a program address, so
// only the admin signs.
func NewCreateConfigAccountInstruction(
	accounts *CreateConfigAccountInstructionAccounts,
) (solana.Instruction, error) {
	for _, required := range []struct {
		field   string
		address ed25519.PublicKey
	}{
		{"program", accounts.Program},
		{"admin", accounts.Admin},
		{"amm_config", accounts.AmmConfig},
		{"pnl_owner", accounts.PnlOwner},
	} {
		if len(required.address) != ed25519.PublicKeySize || isZeroAddress(required.address) {
			return solana.Instruction{}, &InstructionBuildError{Field: required.field}
		}
	}

	var offset int

	data := make([]byte, 1+CreateConfigAccountInstructionArgsSize)
	putInstructionType(data, InstructionTypeCreateConfigAccount, &offset)

	return solana.Instruction{
		Program: accounts.Program,

		// Instruction args
		Data: data,

		// Instruction accounts
		Accounts: []solana.AccountMeta{
			{
				PublicKey:  accounts.Admin,
				IsWritable: false,
				IsSigner:   true,
			},
			{
				PublicKey:  accounts.AmmConfig,
				IsWritable: true,
				IsSigner:   false,
			},
			{
				PublicKey:  accounts.PnlOwner,
				IsWritable: false,
				IsSigner:   false,
			},
		},
	}, nil
}
