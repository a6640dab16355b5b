package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"regprobe/internal/shared/types"
)

// MemoryStore keeps every entity in process memory. It backs tests and
// single-process deployments without redis.
type MemoryStore struct {
	mu        sync.Mutex
	templates map[int64]types.ProbeTemplate
	tasks     map[int64]types.DetectionTask
	results   map[int64][]types.DetectionResult
	servers   map[int64]types.Server
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[int64]types.ProbeTemplate),
		tasks:     make(map[int64]types.DetectionTask),
		results:   make(map[int64][]types.DetectionResult),
		servers:   make(map[int64]types.Server),
	}
}

func (s *MemoryStore) GetTemplate(_ context.Context, id int64) (*types.ProbeTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tpl, nil
}

func (s *MemoryStore) SaveTemplate(_ context.Context, tpl *types.ProbeTemplate) error {
	s.mu.Lock()
	s.templates[tpl.ID] = *tpl
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id int64) (*types.DetectionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (s *MemoryStore) SaveTask(_ context.Context, task *types.DetectionTask) error {
	s.mu.Lock()
	s.tasks[task.ID] = *task
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetTaskStatus(_ context.Context, id int64, status types.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Status = status
	task.UpdateTime = time.Now()
	s.tasks[id] = task
	return nil
}

func (s *MemoryStore) IncrProgress(_ context.Context, taskID int64, success bool) (*types.DetectionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	task.CompletedCount++
	if success {
		task.SuccessCount++
	} else {
		task.FailCount++
	}
	if task.TotalCount > 0 && task.CompletedCount >= task.TotalCount && task.Status == types.TaskRunning {
		task.Status = types.TaskCompleted
	}
	task.UpdateTime = time.Now()
	s.tasks[taskID] = task
	return &task, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result *types.DetectionResult) error {
	s.mu.Lock()
	s.results[result.TaskID] = append(s.results[result.TaskID], *result)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ResultsByTask(_ context.Context, taskID int64) ([]*types.DetectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.results[taskID]
	out := make([]*types.DetectionResult, 0, len(stored))
	for i := range stored {
		r := stored[i]
		out = append(out, &r)
	}
	return out, nil
}

func (s *MemoryStore) GetServer(_ context.Context, id int64) (*types.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, ok := s.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &server, nil
}

func (s *MemoryStore) SaveServer(_ context.Context, server *types.Server) error {
	s.mu.Lock()
	s.servers[server.ID] = *server
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListServers(_ context.Context) ([]*types.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Server, 0, len(s.servers))
	for id := range s.servers {
		server := s.servers[id]
		out = append(out, &server)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
