// Package diagdash is an optional, read-only HTTP diagnostics dashboard
// for a running debug session: a live statsview chart page plus a plain
// JSON snapshot endpoint, both served from counters the front-end updates
// as it drives an aarch64.Target. It has no effect on run-control or
// memory access - unplugging it changes nothing about debugging, only
// what an operator can see of it from a browser.
package diagdash

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/rs/cors"
)

// Counters is the live state diagdash publishes. The counters and the last
// DSCR are updated with atomic operations so a front-end's hot run-control
// path never blocks on the dashboard's HTTP handlers; the per-core state
// strings sit behind a read-write mutex.
type Counters struct {
	Polls          uint64
	Halts          uint64
	Resumes        uint64
	Steps          uint64
	OpcodeTimeouts uint64
	lastDSCR       uint32
	coresMu        sync.RWMutex
	coreStates     map[string]string
}

// NewCounters returns an empty, ready-to-use Counters.
func NewCounters() *Counters {
	return &Counters{coreStates: make(map[string]string)}
}

func (c *Counters) IncPolls()          { atomic.AddUint64(&c.Polls, 1) }
func (c *Counters) IncHalts()          { atomic.AddUint64(&c.Halts, 1) }
func (c *Counters) IncResumes()        { atomic.AddUint64(&c.Resumes, 1) }
func (c *Counters) IncSteps()          { atomic.AddUint64(&c.Steps, 1) }
func (c *Counters) IncOpcodeTimeouts() { atomic.AddUint64(&c.OpcodeTimeouts, 1) }

// SetLastDSCR records the most recently observed DSCR value.
func (c *Counters) SetLastDSCR(v uint32) { atomic.StoreUint32(&c.lastDSCR, v) }

// SetCoreState records core's last-known run-control state by name
// ("primary", or a caller-chosen sibling label).
func (c *Counters) SetCoreState(core, state string) {
	c.coresMu.Lock()
	defer c.coresMu.Unlock()
	c.coreStates[core] = state
}

// snapshot is the JSON shape served at /diagdash/snapshot.
type snapshot struct {
	Polls          uint64            `json:"polls"`
	Halts          uint64            `json:"halts"`
	Resumes        uint64            `json:"resumes"`
	Steps          uint64            `json:"steps"`
	OpcodeTimeouts uint64            `json:"opcode_timeouts"`
	LastDSCR       uint32            `json:"last_dscr"`
	CoreStates     map[string]string `json:"core_states"`
}

func (c *Counters) snapshot() snapshot {
	c.coresMu.RLock()
	defer c.coresMu.RUnlock()
	states := make(map[string]string, len(c.coreStates))
	for k, v := range c.coreStates {
		states[k] = v
	}
	return snapshot{
		Polls:          atomic.LoadUint64(&c.Polls),
		Halts:          atomic.LoadUint64(&c.Halts),
		Resumes:        atomic.LoadUint64(&c.Resumes),
		Steps:          atomic.LoadUint64(&c.Steps),
		OpcodeTimeouts: atomic.LoadUint64(&c.OpcodeTimeouts),
		LastDSCR:       atomic.LoadUint32(&c.lastDSCR),
		CoreStates:     states,
	}
}

// Dashboard wires a statsview live-chart viewer and a JSON snapshot
// handler behind a permissive CORS policy into an *http.Server.
type Dashboard struct {
	counters *Counters
	srv      *http.Server
}

// New builds a Dashboard bound to counters, listening on addr (e.g.
// ":18066") when Start is called. counters is never nil internally: a
// caller that passes nil gets an empty Counters they can't reach, which
// is harmless since the dashboard is read-only.
func New(counters *Counters, addr string) *Dashboard {
	if counters == nil {
		counters = NewCounters()
	}

	mux := http.NewServeMux()

	v := statsview.New(viewer.WithAddr(addr))
	v.RegisterTplHandler(mux)
	v.RegisterDataHandler(mux)

	mux.HandleFunc("/diagdash/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counters.snapshot())
	})

	handler := cors.AllowAll().Handler(mux)

	return &Dashboard{
		counters: counters,
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Start runs the dashboard's HTTP server until ctx is cancelled. It
// returns http.ErrServerClosed on a clean shutdown, matching
// net/http.Server's own contract.
func (d *Dashboard) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- d.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.srv.Shutdown(shutdownCtx)
		return <-errc
	case err := <-errc:
		return err
	}
}
