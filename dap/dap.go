// Package dap describes the Debug Access Port contract this driver
// consumes. The DAP transport itself - probe discovery, JTAG/SWD framing,
// AP selection, the memory-AP read/write primitives - is an external
// collaborator per the specification's scope (§6: "Consumed from DAP
// layer"). This package carries only the interfaces: every concrete
// implementation (a real probe driver, or the in-memory fake used by this
// module's own tests) lives outside it.
package dap

import "context"

// APKind distinguishes the two memory-mapped windows a DAP exposes that
// this driver cares about.
type APKind int

const (
	// APBAP is the peripheral-bus window onto a core's debug register
	// block. It is mandatory: every target must have one.
	APBAP APKind = iota

	// AHBAP is the system-bus window onto target memory directly, bypassing
	// the core. It is optional - when absent, all memory access goes
	// through the APB-AP and the halted core's own load/store pipeline.
	AHBAP
)

// AP is a single Access Port: a word-granular atomic window onto a
// debug register block or onto target memory, depending on APKind.
type AP interface {
	// ReadAtomicU32 and WriteAtomicU32 perform a single atomic 32-bit
	// memory-mapped transaction. Every debug-register access in this
	// driver uses these two - the "atomic" qualifier matters because
	// consecutive reads of DSCR must not be reordered or coalesced by the
	// transport.
	ReadAtomicU32(ctx context.Context, addr uint64) (uint32, error)
	WriteAtomicU32(ctx context.Context, addr uint64, val uint32) error

	// ReadU32 and WriteU32 are the non-atomic equivalents, used where
	// strict ordering against other debug-register traffic is not
	// required.
	ReadU32(ctx context.Context, addr uint64) (uint32, error)
	WriteU32(ctx context.Context, addr uint64, val uint32) error

	// ReadBuf and WriteBuf perform an incrementing-address bulk transfer:
	// consecutive 32-bit words starting at addr.
	ReadBuf(ctx context.Context, addr uint64, buf []uint32) error
	WriteBuf(ctx context.Context, addr uint64, buf []uint32) error

	// ReadBufNoIncr and WriteBufNoIncr perform a bulk transfer against a
	// single fixed address - used to stream words into DTRRX while DSCR.MA
	// is set.
	ReadBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error
	WriteBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error
}

// Port is the probe-level handle this driver obtains at examine time: it
// can enumerate Access Ports, read the debug base of a given AP and look
// up the offset of the Cross-Trigger Interface component in the debug
// component tree.
type Port interface {
	// FindAP returns the first AP of the given kind, or an error if none
	// is present. Callers treat a missing APBAP as fatal and a missing
	// AHBAP as merely "memory_ap_available = false".
	FindAP(ctx context.Context, kind APKind) (AP, error)

	// DebugBase returns the MMIO origin of the core's external debug
	// register block as seen through ap.
	DebugBase(ctx context.Context, ap AP) (uint64, error)

	// LookupCSComponent returns the MMIO origin of a named CoreSight
	// component (used to locate the Cross-Trigger Interface when it is
	// not simply debug_base+0x1000).
	LookupCSComponent(ctx context.Context, ap AP, name string) (uint64, error)

	// AHBDebugPortInit performs whatever one-time setup an AHB-AP requires
	// before its memory window can be used (equivalent of
	// ahbap_debugport_init in the specification).
	AHBDebugPortInit(ctx context.Context, ap AP) error

	// AssertReset and DeassertReset drive the probe's warm-reset line
	// (SRST). This is a transport-level primitive outside the DAP
	// register-access abstraction above: the aarch64 Target only
	// sequences around the pulse (invalidating cached state, polling
	// afterwards), it never asserts the line itself.
	AssertReset(ctx context.Context) error
	DeassertReset(ctx context.Context) error
}
