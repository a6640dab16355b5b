package serverwatch

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
	"regprobe/internal/store"
)

const (
	serverOnline  = 1
	serverOffline = 2
)

// Watcher periodically verifies that every worker server in the fleet is
// reachable and records the outcome in the store. Purely informational;
// nothing gates on it.
type Watcher struct {
	store       store.Store
	interval    time.Duration
	dialTimeout time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(st store.Store, cfg types.MonitorConf) *Watcher {
	return &Watcher{
		store:       st,
		interval:    time.Duration(cfg.SweepMinutes) * time.Minute,
		dialTimeout: time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		stopChan:    make(chan struct{}),
	}
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep()
	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stopChan:
			return
		}
	}
}

// sweep dials every server concurrently and updates its status.
func (w *Watcher) sweep() {
	l := logger.WithComponent("ServerWatch")
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	servers, err := w.store.ListServers(ctx)
	if err != nil {
		l.Error().Err(err).Msg("Failed to list servers.")
		return
	}
	if len(servers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, server := range servers {
		wg.Add(1)
		go func(srv *types.Server) {
			defer wg.Done()

			addr := net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port))
			conn, err := net.DialTimeout("tcp", addr, w.dialTimeout)
			if err != nil {
				srv.Status = serverOffline
				l.Warn().Int64("server_id", srv.ID).Str("addr", addr).Err(err).Msg("Server unreachable.")
			} else {
				conn.Close()
				srv.Status = serverOnline
				srv.LastSeen = time.Now()
			}

			if err := w.store.SaveServer(ctx, srv); err != nil {
				l.Error().Int64("server_id", srv.ID).Err(err).Msg("Failed to save server status.")
			}
		}(server)
	}
	wg.Wait()
	l.Debug().Int("count", len(servers)).Msg("Server sweep finished.")
}
