package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
	"regprobe/internal/store"
	manager "regprobe/proxypool"
)

// StartServer exposes the observer websocket and a few read-only
// snapshot endpoints. Entity CRUD and authentication live in the
// external API, not here.
func StartServer(wg *sync.WaitGroup, cfg *types.Config, st store.Store, mgr *manager.Manager, hub *Hub) {
	if cfg.WebConf.Port <= 0 {
		logger.Info().Msg("Web server is disabled (web port is 0 or not set).")
		return
	}

	r := chi.NewRouter()

	r.Get("/ws/task/{taskID}", func(w http.ResponseWriter, req *http.Request) {
		taskID, err := strconv.ParseInt(chi.URLParam(req, "taskID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid task id", http.StatusBadRequest)
			return
		}
		ServeWs(hub, taskTopic(taskID), w, req)
	})

	r.Get("/api/task/{taskID}/progress", func(w http.ResponseWriter, req *http.Request) {
		taskID, err := strconv.ParseInt(chi.URLParam(req, "taskID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid task id", http.StatusBadRequest)
			return
		}
		task, err := st.GetTask(req.Context(), taskID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		task.DataValues = nil
		writeJSON(w, task)
	})

	r.Get("/api/proxypool/nodes", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, mgr.SnapshotAll())
	})

	r.Get("/api/proxypool/{poolID}/stats", func(w http.ResponseWriter, req *http.Request) {
		poolID, err := strconv.ParseInt(chi.URLParam(req, "poolID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid pool id", http.StatusBadRequest)
			return
		}
		writeJSON(w, mgr.PoolStats(poolID))
	})

	r.Get("/api/servers", func(w http.ResponseWriter, req *http.Request) {
		servers, err := st.ListServers(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, servers)
	})

	addr := fmt.Sprintf(":%d", cfg.WebConf.Port)
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", addr).Msg("Web server listening.")
		if err := http.ListenAndServe(addr, r); err != nil {
			logger.Error().Err(err).Msg("Web server exited.")
		}
	}()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to encode response.")
	}
}
