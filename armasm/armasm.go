// Package armasm is a fixed-instruction-encoding table: the small, closed
// set of A64 opcodes the DPM smuggles through the Instruction Transfer
// Register. It is not a general assembler - only the instructions this
// driver needs to execute on a halted core are represented, grounded on
// the literal hex opcodes issued by the reference OpenOCD aarch64 target
// driver against its ITR (e.g. 0xd5087500 for "IC IALLU", confirmed
// directly in that source across both the soft-breakpoint set and unset
// paths) or on the architecture's own encoding tables.
package armasm

// Fixed opcodes used verbatim by more than one caller.
const (
	NOP      = 0xd503201f
	DSB_SY   = 0xd5033f9f
	IC_IALLU = 0xd5087500 // IC IALLU - invalidate all instruction cache to PoU
	BRK_11   = 0xd4200220 // BRK #0x11 - the A64 software breakpoint instruction
)

// MRS_X0_DBGDTRRX_EL0 reads DBGDTRRX_EL0 into X0. Used to complete a
// "write DCC then execute" (instr_write_data_r0) sequence.
const MRS_X0_DBGDTRRX_EL0 = 0xd5330500

// MRS_Xt_DBGDTR_EL0 reads the 64-bit DBGDTR_EL0 pseudo-register into Xt
// (low word from DTRRX, high word from DTRTX, per the architecture's fixed
// register mapping). Only X0 and X1 are ever used as destinations by this
// driver.
func MRS_Xt_DBGDTR_EL0(rt uint32) uint32 {
	return 0xd5330400 | (rt & 0x1f)
}

// MSR_DBGDTRTX_EL0_Xt writes Xt out to DBGDTRTX_EL0, completing an
// instr_read_data_r0 sequence.
func MSR_DBGDTRTX_EL0_Xt(rt uint32) uint32 {
	return 0xd5130500 | (rt & 0x1f)
}

// MSR_DBGDTR_EL0_Xt writes the 64-bit DBGDTR_EL0 pseudo-register from Xt,
// completing an instr_read_data_r0_64 sequence before the host drains both
// DCC halves with ReadDCC64.
func MSR_DBGDTR_EL0_Xt(rt uint32) uint32 {
	return 0xd5130400 | (rt & 0x1f)
}

// LDR_W0_X0 is "LDR W0, [X0]" - loads a 32-bit word from the address in X0
// into W0.
const LDR_W0_X0 = 0xb9400000

// STR_W0_X1 is "STR W0, [X1]" - stores W0 to the address in X1.
const STR_W0_X1 = 0xb9000020

// ADD_X1_X1_4 is "ADD X1, X1, #4".
const ADD_X1_X1_4 = 0x91001021

// ICIVAU_X0 is "IC IVAU, X0" - invalidate instruction cache line by VA to
// PoU, address in X0.
const ICIVAU_X0 = 0xd50b7520

// DCCVAU_X0 is "DC CVAU, X0" - clean data cache line by VA to PoU, address
// in X0.
const DCCVAU_X0 = 0xd50b7b20

// MRS_SCTLR_EL1_X0 reads SCTLR_EL1 into X0.
const MRS_SCTLR_EL1_X0 = 0xd5381000

// MRS_SCTLR_EL2_X0 reads SCTLR_EL2 into X0.
const MRS_SCTLR_EL2_X0 = 0xd5381000 | (4 << 16)

// MRS_SCTLR_EL3_X0 reads SCTLR_EL3 into X0.
const MRS_SCTLR_EL3_X0 = 0xd5381000 | (6 << 16)

// SCTLRByEL returns the opcode reading the SCTLR register appropriate to
// the given exception level (1, 2 or 3) into X0.
func SCTLRByEL(el int) uint32 {
	switch el {
	case 1:
		return MRS_SCTLR_EL1_X0
	case 2:
		return MRS_SCTLR_EL2_X0
	case 3:
		return MRS_SCTLR_EL3_X0
	default:
		return MRS_SCTLR_EL1_X0
	}
}

// HaltInstruction is the 0x11 immediate used for the BRK encoding in the
// original driver's ARMV8_HALT macro - kept as a named constant since it
// also doubles as the breakpoint.Set "soft breakpoint" sentinel value.
const HaltInstruction = 0x11

// MRS_Xt_DLR_EL0 reads the Debug Link Register (the halted core's restart
// PC) into Xt.
func MRS_Xt_DLR_EL0(rt uint32) uint32 {
	return 0xd53b4520 | (rt & 0x1f)
}

// MSR_DLR_EL0_Xt writes Xt to the Debug Link Register, staging the PC a
// subsequent restart will resume at.
func MSR_DLR_EL0_Xt(rt uint32) uint32 {
	return 0xd51b4520 | (rt & 0x1f)
}

// MRS_Xt_DSPSR_EL0 reads the Debug Saved Program Status Register (the
// halted core's CPSR/PSTATE) into Xt.
func MRS_Xt_DSPSR_EL0(rt uint32) uint32 {
	return 0xd53b4500 | (rt & 0x1f)
}

// MSR_DSPSR_EL0_Xt writes Xt to DSPSR_EL0.
func MSR_DSPSR_EL0_Xt(rt uint32) uint32 {
	return 0xd51b4500 | (rt & 0x1f)
}

// MOV_Xd_X0 is "ORR Xd, XZR, X0" (the MOV Xd, X0 alias) - copies the
// register-restore engine's X0 scratch value into Xd, completing the
// restore of a dirty general register that was overwritten as a transfer
// register during debug entry.
func MOV_Xd_X0(rd uint32) uint32 {
	return 0xaa0003e0 | (rd & 0x1f)
}
