package inspect

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vireo-rt/vireo/internal/platform"
)

// ===== Inspector endpoints =====

// Inspector exposes one machine's snapshots:
//
//	GET  /api/state          -> machine snapshot
//	GET  /api/tasks          -> task control block snapshots
//	GET  /api/trace?n=COUNT  -> recent trace samples, oldest first
//	GET  /api/profile        -> the board profile in effect
//	GET  /api/console        -> recent console output
//	POST /api/console/input  -> body bytes fed to the console receiver
//	GET  /api/host           -> facts about the hosting process
type Inspector struct {
	mu      sync.RWMutex
	machine *platform.Machine
	server  *Server
	addr    string
}

// defaultTraceCount bounds /api/trace when the query gives no count.
const defaultTraceCount = 200

// StartInspector serves the machine's inspector on addr with a
// self-signed certificate and returns the bound address.
func StartInspector(m *platform.Machine, addr string) (*Inspector, error) {
	tlsCfg, err := SelfSignedTLS([]string{"localhost", "127.0.0.1", "::1"}, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	ins := &Inspector{machine: m}
	ins.server = NewServer(addr, tlsCfg, ins.routes())
	bound, err := ins.server.Start()
	if err != nil {
		return nil, err
	}
	ins.addr = bound
	return ins, nil
}

// Addr returns the bound address.
func (ins *Inspector) Addr() string {
	return ins.addr
}

// Stop shuts the endpoint down.
func (ins *Inspector) Stop() error {
	return ins.server.Stop()
}

// Retarget points the running endpoint at a different machine. Used by hot
// reload, which rebuilds the machine but keeps the endpoint up.
func (ins *Inspector) Retarget(m *platform.Machine) {
	ins.mu.Lock()
	ins.machine = m
	ins.mu.Unlock()
}

func (ins *Inspector) target() *platform.Machine {
	ins.mu.RLock()
	defer ins.mu.RUnlock()
	return ins.machine
}

func (ins *Inspector) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ins.target().State())
	})

	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ins.target().Tasks())
	})

	mux.HandleFunc("/api/trace", func(w http.ResponseWriter, r *http.Request) {
		n := defaultTraceCount
		if nStr := r.URL.Query().Get("n"); nStr != "" {
			v, err := strconv.Atoi(nStr)
			if err != nil || v < 0 {
				http.Error(w, "invalid n", http.StatusBadRequest)
				return
			}
			n = v
		}
		writeJSON(w, ins.target().TraceTail(n))
	})

	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ins.target().Profile())
	})

	mux.HandleFunc("/api/console", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"text": ins.target().ConsoleTail()})
	})

	mux.HandleFunc("/api/console/input", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		ins.target().InjectConsoleInput(data)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/host", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, hostInfo())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
