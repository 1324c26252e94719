package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/baldanca/queue-pump/host"
	"github.com/baldanca/queue-pump/metrics"
)

// adminMux serves /metrics and /pumps. GET /pumps lists pump states;
// POST /pumps?queue=q&enabled=false switches one pump.
func adminMux(g prometheus.Gatherer, toggles map[string]*host.Toggle) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	mux.HandleFunc("/pumps", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writePumps(w, toggles)
		case http.MethodPost:
			t, ok := toggles[r.URL.Query().Get("queue")]
			if !ok {
				http.Error(w, "unknown queue", http.StatusNotFound)
				return
			}
			on, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
			if err != nil {
				http.Error(w, "enabled must be a boolean", http.StatusBadRequest)
				return
			}
			if on {
				t.Enable()
			} else {
				t.Disable()
			}
			writePumps(w, toggles)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

type pumpState struct {
	Queue   string `json:"queue"`
	Enabled bool   `json:"enabled"`
}

func writePumps(w http.ResponseWriter, toggles map[string]*host.Toggle) {
	out := make([]pumpState, 0, len(toggles))
	for q, t := range toggles {
		out = append(out, pumpState{Queue: q, Enabled: t.Enabled()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
