// Command armdapsh is a demonstration shell wiring an aarch64.Target, the
// console command dispatcher and the diagdash diagnostics server together.
// It has no real probe transport of its own - that's explicitly out of
// scope for this driver - so it always runs against the in-memory
// simulated core used by the test suite, clearly labelled as such, purely
// so the rest of the stack has something to talk to.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/jetsetilly/armdap/aarch64"
	"github.com/jetsetilly/armdap/console"
	"github.com/jetsetilly/armdap/dap"
	"github.com/jetsetilly/armdap/diagdash"
	"github.com/jetsetilly/armdap/internal/fakedap"
	"github.com/jetsetilly/armdap/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flgs := flag.NewFlagSet("armdapsh", flag.ContinueOnError)
	logEcho := flgs.Bool("log", false, "echo debugging log to stdout")
	dashAddr := flgs.String("dashboard", "", "listen address for the diagnostics dashboard (e.g. :18066); empty disables it")
	smp := flgs.Bool("smp", false, "enable SMP halt/resume fan-out")

	if err := flgs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	port := demoPort()
	target := aarch64.NewTarget(port)
	target.SMP = *smp

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		cancel()
	}()

	if err := target.Examine(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "* examine failed: %v\n", err)
		return 1
	}

	counters := diagdash.NewCounters()
	if *dashAddr != "" {
		dash := diagdash.New(counters, *dashAddr)
		go func() {
			if err := dash.Start(ctx); err != nil {
				target.Log.Logf(logger.Allow, "armdapsh", "dashboard stopped: %v", err)
			}
		}()
	}

	c := console.New(target)
	code := repl(ctx, c, counters)
	if *logEcho {
		target.Log.Write(os.Stdout)
	}
	return code
}

// demoPort returns a Port backed by the in-memory simulated core: this
// driver doesn't own a real JTAG/SWD transport, so the shell has nothing
// else to attach to without one being provided by an embedding front-end.
func demoPort() dap.Port {
	const (
		demoDebugBase = 0x8000_0000
		demoCTIBase   = 0x8000_1000
		demoMemBase   = 0x4000_0000
		demoMemSize   = 0x10000
	)
	core := fakedap.NewCore(demoMemBase, demoMemSize)
	return fakedap.NewPort(core, demoDebugBase, demoCTIBase)
}

func repl(ctx context.Context, c *console.Console, counters *diagdash.Counters) int {
	fmt.Println("armdapsh (demo core) - type a command, or 'quit'")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return 0
		}
		line := scanner.Text()
		if line == "quit" || line == "exit" {
			return 0
		}

		out, err := c.Dispatch(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "* %v\n", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}

		switch firstWord(line) {
		case "state", "states":
			counters.IncPolls()
		}
	}
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i]
		}
	}
	return s
}
