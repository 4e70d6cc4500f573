// Package debugregs is a flat, bit-exact catalogue of the ARMv8-A External
// Debug register offsets and bitfields, and of the Cross-Trigger Interface
// register block. It contains no logic: every other package in this module
// reads and writes these offsets through the dap.AP contract.
//
// Values are grounded on the ARMv8-A External Debug architecture and on the
// literal constants used against CPUV8_DBG_* offsets in the reference
// OpenOCD aarch64 target driver (e.g. DSCR.ITE = bit 24, confirmed directly
// in that source as `DSCR_INSTR_COMP (0x1 << 24)`).
package debugregs

// Debug register offsets, relative to a target's debug_base.
const (
	DBGBVR0  = 0x400 // Breakpoint Value Register bank base (16 byte stride)
	DBGBCR0  = 0x408 // Breakpoint Control Register bank base (16 byte stride)
	DBGWVR0  = 0xA00 // Watchpoint Value Register bank base (16 byte stride)
	DBGWCR0  = 0xA08 // Watchpoint Control Register bank base (16 byte stride)
	BRPWRPStride = 16

	DSCR   = 0x088
	DTRRX  = 0x080
	ITR    = 0x084
	DTRTX  = 0x08C
	DRCR   = 0x090

	WFAR0 = 0x098
	WFAR1 = 0x09C

	EDECR = 0x024
	EDESR = 0x028

	PRSR       = 0x314
	LOCKACCESS = 0x320
	OSLAR      = 0x300

	MAINID0     = 0xD00
	MAINID4     = 0xD04
	MEMFEATURE0 = 0xD08
	MEMFEATURE4 = 0xD0C
	DBGFEATURE0 = 0xD28 // ID_AA64DFR0_EL1 shadow, low word
	DBGFEATURE4 = 0xD2C // ID_AA64DFR0_EL1 shadow, high word
)

// DSCR bitfields.
const (
	DSCR_ITE              = 0x1 << 24 // InstrCompl
	DSCR_HDE              = 0x1 << 14 // Halting debug enable
	DSCR_MA               = 0x1 << 20 // Memory access mode
	DSCR_ERR              = 0x1 << 6
	DSCR_SYS_ERROR_PEND   = 0x1 << 5
	DSCR_DTR_RX_FULL      = 0x1 << 30
	DSCR_DTR_TX_FULL      = 0x1 << 29
	DSCR_STICKY_ABORT_PRECISE   = 0x1 << 6
	DSCR_STICKY_ABORT_IMPRECISE = 0x1 << 7

	DSCR_EXT_DCC_MASK         = 0x3 << 20
	DSCR_EXT_DCC_NON_BLOCKING = 0x0 << 20

	// DSCR.HALT_MASK / run-mode: bit 0 of the low status nibble reports
	// halted (1) vs running (0) for the common case this driver cares
	// about; bit 1 is the "core restarted" sticky flag. Both sit inside the
	// run-control field extracted by DSCR_RUN_MODE.
	DSCR_HALT_MASK  = 0x1
	DSCR_CORE_RESTARTED = 0x2
)

// DSCR_RUN_MODE extracts the run-control status field.
func DSCR_RUN_MODE(dscr uint32) uint32 {
	return dscr & 0x3F
}

// DRCR bitfields.
const (
	DRCR_CSE              = 0x1 << 2 // Clear Sticky Error
	DRCR_CLEAR_SPA        = 0x1 << 3
	DRCR_CLEAR_EXCEPTIONS = 0x1 << 4
)

// EDECR bitfields.
const (
	EDECR_SS_HALTING_STEP_ENABLE = 0x1 << 2
)

// LOCKACCESS unlock value, architecturally fixed.
const LockAccessUnlockValue = 0xC5ACCE55

// Cross-Trigger Interface register offsets, relative to a target's
// cti_base (which defaults to debug_base+0x1000).
const (
	CTI_CTR          = 0x000
	CTI_INTACK       = 0x010 // INACK
	CTI_APPPULSE     = 0x01C // APPPULSE (also called APPSET/APPCLEAR elsewhere)
	CTI_INEN0        = 0x020
	CTI_OUTEN0       = 0x0A0
	CTI_OUTEN1       = 0x0A4
	CTI_TROUT_STATUS = 0x130
	CTI_GATE         = 0x140
	CTI_LOCKACCESS   = 0xFB0
)

// CTI channel numbers used by this driver: channel 0 halts, channel 1
// restarts.
const (
	CTIChannelHalt    = 0x1
	CTIChannelRestart = 0x2
)
