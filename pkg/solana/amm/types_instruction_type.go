package amm

// InstructionType is the leading tag byte of every AMM instruction.
type InstructionType uint8

const (
	InstructionTypeInitialize InstructionType = iota
	InstructionTypeInitialize2
	InstructionTypeMonitorStep
	InstructionTypeDeposit
	InstructionTypeWithdraw
	InstructionTypeMigrateToOpenBook
	InstructionTypeSetParams
	InstructionTypeWithdrawPnl
	InstructionTypeWithdrawSrm
	InstructionTypeSwapBaseIn
	InstructionTypePreInitialize
	InstructionTypeSwapBaseOut
	InstructionTypeSimulateInfo
	InstructionTypeAdminCancelOrders
	InstructionTypeCreateConfigAccount
	InstructionTypeUpdateConfigAccount
)

func putInstructionType(dst []byte, v InstructionType, offset *int) {
	dst[*offset] = uint8(v)
	*offset += 1
}
