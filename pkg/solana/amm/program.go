// Package amm builds instructions for the Raydium-style AMM program and
// derives the program-owned addresses they operate on.
package amm

import (
	"fmt"
)

// DefaultConfigAccountSeed is the seed the program derives its global config
// account from.
var DefaultConfigAccountSeed = []byte("amm_config_account_seed")

// InstructionBuildError is returned when an instruction cannot be built from
// the supplied accounts.
type InstructionBuildError struct {
	Field string
}

func (e *InstructionBuildError) Error() string {
	return fmt.Sprintf("invalid instruction account %s: address is empty or zero", e.Field)
}

func isZeroAddress(address []byte) bool {
	for _, b := range address {
		if b != 0 {
			return false
		}
	}
	return true
}
