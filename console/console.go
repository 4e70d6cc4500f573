// Package console is the command-line front-end to an aarch64.Target: a
// small name-to-handler dispatcher (the donor repo's own commandline
// package is hand-rolled too, not built on a CLI-parsing library) plus a
// raw-mode terminal wrapper for interactive use.
package console

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jetsetilly/armdap/aarch64"
)

// handler runs a single console command against target, given the
// whitespace-split arguments that followed the command keyword.
type handler func(ctx context.Context, target *aarch64.Target, args []string) (string, error)

// Console dispatches named commands to an aarch64.Target. The zero value
// is not usable; construct with New.
type Console struct {
	target   *aarch64.Target
	commands map[string]handler
	term     *rawTerm
}

// New builds a Console bound to target. Commands are registered once at
// construction, mirroring the donor debugger's init-time command table.
func New(target *aarch64.Target) *Console {
	c := &Console{
		target:   target,
		commands: make(map[string]handler),
	}
	c.register("cache_info", cmdCacheInfo)
	c.register("dbginit", cmdDbgInit)
	c.register("mmu_info", cmdMMUInfo)
	c.register("regs", cmdRegs)
	c.register("registers", cmdRegs)
	c.register("smp_off", cmdSMPOff)
	c.register("smp_on", cmdSMPOn)
	c.register("smp_gdb", cmdSMPGDB)
	c.register("state", cmdState)
	c.register("states", cmdStates)
	c.register("graph", cmdGraph)
	return c
}

func (c *Console) register(name string, h handler) {
	c.commands[name] = h
}

// Keywords returns every registered command name, sorted, for help text
// and tab-completion.
func (c *Console) Keywords() []string {
	out := make([]string, 0, len(c.commands))
	for k := range c.commands {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch looks up the first whitespace-separated field of line as a
// command keyword (case-insensitive) and runs it against the bound
// target with the remaining fields as arguments.
func (c *Console) Dispatch(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	keyword := strings.ToLower(fields[0])
	h, ok := c.commands[keyword]
	if !ok {
		return "", fmt.Errorf("console: unrecognised command %q", fields[0])
	}
	return h(ctx, c.target, fields[1:])
}

// UseRawTerminal attaches stdin/stdout raw-mode handling to the console
// for an interactive read loop; the command dispatcher itself works
// perfectly well without it (tests call Dispatch directly).
func (c *Console) UseRawTerminal(in, out *os.File) error {
	rt, err := newRawTerm(in, out)
	if err != nil {
		return err
	}
	c.term = rt
	return nil
}

// Close releases any raw-terminal resources attached by UseRawTerminal.
func (c *Console) Close() {
	if c.term != nil {
		c.term.close()
	}
}

func cmdState(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	if _, err := t.Poll(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s)", t.State, debugReasonString(t.DebugReason)), nil
}

func cmdStates(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "primary: %s (%s)\n", t.State, debugReasonString(t.DebugReason))
	for i, s := range t.Siblings {
		fmt.Fprintf(&b, "sibling %d: %s (%s)\n", i, s.State, debugReasonString(s.DebugReason))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func debugReasonString(r aarch64.DebugReason) string {
	switch r {
	case aarch64.ReasonDBGRQ:
		return "halt request"
	case aarch64.ReasonBreakpoint:
		return "breakpoint"
	case aarch64.ReasonWatchpoint:
		return "watchpoint"
	case aarch64.ReasonNotHalted:
		return "running"
	default:
		return "unknown"
	}
}

func cmdDbgInit(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	if err := t.Examine(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("examined: brp_num=%d brp_num_context=%d ahb_ap=%v",
		t.BRPNum, t.BRPNumContext, t.MemoryAPAvailable), nil
}

func cmdMMUInfo(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	if t.State != aarch64.Halted {
		if _, err := t.Poll(ctx); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("mmu=%v icache=%v dcache=%v sctlr=0x%x",
		t.MMUEnabled, t.ICacheEnabled, t.DCacheEnabled, t.SystemControlRegCurr), nil
}

func cmdCacheInfo(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	return fmt.Sprintf("icache=%v dcache=%v (line size fixed at 64 bytes)",
		t.ICacheEnabled, t.DCacheEnabled), nil
}

func cmdRegs(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	if t.State != aarch64.Halted {
		return "", fmt.Errorf("console: regs requires a halted target")
	}
	var b strings.Builder
	for i := 0; i < aarch64.NumGPR; i++ {
		fmt.Fprintf(&b, "x%-2d = 0x%016x\n", i, t.Regs.Get(i))
	}
	fmt.Fprintf(&b, "pc  = 0x%016x\n", t.Regs.PC())
	fmt.Fprintf(&b, "cpsr = 0x%08x", t.Regs.CPSR())
	return b.String(), nil
}

func cmdSMPOn(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	t.SMP = true
	return "SMP fan-out enabled", nil
}

func cmdSMPOff(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	t.SMP = false
	return "SMP fan-out disabled", nil
}

// cmdSMPGDB reports (or selects) the core a subsequent single-core command
// should address, mirroring gdb's "target smp core <n>" idea: called with
// no argument it lists siblings by index, called with an index it requests
// a gdb-facing core switch that completes on the target's next resume/poll
// pair (SelectGDBCore never touches hardware itself).
func cmdSMPGDB(ctx context.Context, t *aarch64.Target, args []string) (string, error) {
	if len(args) == 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "0: primary (%s)\n", t.State)
		for i, s := range t.Siblings {
			fmt.Fprintf(&b, "%d: sibling (%s)\n", i+1, s.State)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "", fmt.Errorf("console: smp_gdb expects a core index: %w", err)
	}
	if err := t.SelectGDBCore(n); err != nil {
		return "", fmt.Errorf("console: %w", err)
	}
	return fmt.Sprintf("core %d selected; switch completes on the next resume/poll", n), nil
}
