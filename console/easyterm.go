// Package console is the command-line front-end to an aarch64.Target: a
// small name-to-handler dispatcher (the donor repo's own commandline
// package is hand-rolled too, not built on a CLI-parsing library) plus a
// raw-mode terminal wrapper for interactive use.
package console

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pkg/term/termios"
)

// geometry is a terminal's character and pixel dimensions, as reported by
// TIOCGWINSZ.
type geometry struct {
	rows uint16
	cols uint16
	x    uint16
	y    uint16
}

// rawTerm wraps a posix terminal for the console's interactive read loop:
// canonical mode for ordinary line editing, raw mode while a command is
// mid-execution and shouldn't be interrupted by line discipline.
type rawTerm struct {
	input  *os.File
	output *os.File

	geometry geometry

	canAttr syscall.Termios
	rawAttr syscall.Termios

	stopResize chan bool
	stoppedAck chan bool

	mu sync.Mutex
}

// newRawTerm prepares a rawTerm bound to in/out, capturing the terminal's
// current attributes before switching anything. Most callers use os.Stdin
// and os.Stdout.
func newRawTerm(in, out *os.File) (*rawTerm, error) {
	if in == nil || out == nil {
		return nil, fmt.Errorf("console: raw terminal requires non-nil input and output files")
	}

	rt := &rawTerm{input: in, output: out}
	if err := termios.Tcgetattr(rt.input.Fd(), &rt.canAttr); err != nil {
		return nil, err
	}
	rt.rawAttr = rt.canAttr
	termios.Cfmakeraw(&rt.rawAttr)

	rt.stopResize = make(chan bool)
	rt.stoppedAck = make(chan bool)

	go rt.watchResize()

	return rt, nil
}

func (rt *rawTerm) watchResize() {
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	defer func() { rt.stoppedAck <- true }()

	for {
		select {
		case <-sigwinch:
			_ = rt.updateGeometry()
		case <-rt.stopResize:
			return
		}
	}
}

// close stops the resize watcher and restores canonical mode.
func (rt *rawTerm) close() {
	rt.canonicalMode()
	rt.stopResize <- true
	<-rt.stoppedAck
}

func (rt *rawTerm) updateGeometry() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, rt.output.Fd(),
		uintptr(syscall.TIOCGWINSZ),
		uintptr(unsafe.Pointer(&rt.geometry)))
	if errno != 0 {
		return fmt.Errorf("console: error reading terminal geometry: %d", errno)
	}
	return nil
}

// rawMode switches the terminal to raw mode: no echo, no line buffering, no
// signal generation from control characters.
func (rt *rawTerm) rawMode() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	termios.Tcsetattr(rt.input.Fd(), termios.TCIFLUSH, &rt.rawAttr)
}

// canonicalMode restores the terminal attributes captured at construction.
func (rt *rawTerm) canonicalMode() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	termios.Tcsetattr(rt.input.Fd(), termios.TCIFLUSH, &rt.canAttr)
}
