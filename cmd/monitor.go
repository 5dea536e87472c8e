package cmd

import (
	"expvar"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

// monitor exposes run progress over HTTP via expvar. It has no effect on
// chain evolution; the engine's progress hook feeds it.
type monitor struct {
	info    *expvar.Map
	stopped chan struct{}
	server  *http.Server

	Sweeps       *expvar.Int
	BurnIn       *expvar.Int
	Filter       *expvar.Int
	LastSweep    *expvar.Int
	RunTime      *expvar.Float
	NClusters    *expvar.Int
	MaxNClusters *expvar.Int
}

// Start begins the monitor on the given address.
func (m *monitor) Start(addr string) error {
	if m.info != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	m.info = expvar.NewMap("profregr-progress")
	m.stopped = make(chan struct{})
	m.server = &http.Server{
		Addr: addr,
	}

	// Help the user and redirect to the only thing currently available:
	// the handler from the expvar package
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/debug/vars", http.StatusTemporaryRedirect)
	})

	m.Sweeps = expvar.NewInt("Sweeps")
	m.BurnIn = expvar.NewInt("Burn-In")
	m.Filter = expvar.NewInt("Filter")
	m.LastSweep = expvar.NewInt("Last-Sweep")
	m.RunTime = expvar.NewFloat("Run-Time")
	m.NClusters = expvar.NewInt("Occupied-Clusters")
	m.MaxNClusters = expvar.NewInt("Max-Clusters")

	// Actual server that will close the stopped channel on exit
	started := make(chan struct{})
	go func() {
		defer close(m.stopped)
		fmt.Fprintf(os.Stderr, "HTTP now available at %v (see debug/vars/)\n", m.server.Addr)
		close(started)
		m.server.ListenAndServe()
	}()

	<-started
	return nil
}

func (m *monitor) Stop() {
	if m.info == nil {
		return
	}

	m.server.Close()

	select {
	case <-m.stopped:
		fmt.Fprintf(os.Stderr, "HTTP Info Stopped\n")
	case <-time.After(2 * time.Second):
		fmt.Fprintf(os.Stderr, "HTTP would NOT stop: just continuing on\n")
	}
}
