package manager

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"regprobe/internal/shared/logger"
	"regprobe/proxypool/model"
	"regprobe/proxypool/storage"
)

// NodeChecker performs the actual liveness probe for one node. Satisfied
// by checker.Checker; tests substitute their own.
type NodeChecker interface {
	Check(n *model.ProxyNode) (latencyMs int64, err error)
}

// trackedNode pairs a node with its own mutex so concurrent checks and
// stats updates on different nodes never block each other, while two
// operations on the same node cannot race.
type trackedNode struct {
	mu   sync.Mutex
	node *model.ProxyNode
}

// Manager owns the proxy state store. It allocates nodes for probes,
// records usage statistics and is the only component allowed to
// transition a node's status.
type Manager struct {
	mu      sync.RWMutex
	nodes   map[int64]*trackedNode
	storage storage.Storage
	checker NodeChecker
	nextID  int64
}

func NewManager(st storage.Storage, ch NodeChecker) *Manager {
	return &Manager{
		nodes:   make(map[int64]*trackedNode),
		storage: st,
		checker: ch,
	}
}

// Load populates the in-memory table from durable storage. Called once at
// startup, before the recovery sweep.
func (m *Manager) Load() error {
	nodes, err := m.storage.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.nodes = make(map[int64]*trackedNode, len(nodes))
	for id, n := range nodes {
		m.nodes[id] = &trackedNode{node: n}
		if id >= m.nextID {
			m.nextID = id + 1
		}
	}
	m.mu.Unlock()
	return nil
}

// Save snapshots the table back to durable storage.
func (m *Manager) Save() error {
	snapshot := make(map[int64]*model.ProxyNode)
	m.mu.RLock()
	for id, tn := range m.nodes {
		tn.mu.Lock()
		copied := *tn.node
		tn.mu.Unlock()
		snapshot[id] = &copied
	}
	m.mu.RUnlock()
	return m.storage.Save(snapshot)
}

// AddNode registers a node. A zero ID gets the next free one. New nodes
// start in Checking so the heartbeat sweep picks them up immediately.
func (m *Manager) AddNode(n *model.ProxyNode) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == 0 {
		n.ID = m.nextID
		if n.ID == 0 {
			n.ID = 1
		}
	}
	if n.ID >= m.nextID {
		m.nextID = n.ID + 1
	}
	if n.Status == 0 {
		n.Status = model.NodeChecking
	}
	m.nodes[n.ID] = &trackedNode{node: n}
	return n.ID
}

// RemoveNode drops a node from the pool.
func (m *Manager) RemoveNode(id int64) {
	m.mu.Lock()
	delete(m.nodes, id)
	m.mu.Unlock()
}

// Node returns a copy of the node record, so callers can never mutate
// manager-owned state.
func (m *Manager) Node(id int64) (model.ProxyNode, bool) {
	tn := m.tracked(id)
	if tn == nil {
		return model.ProxyNode{}, false
	}
	tn.mu.Lock()
	copied := *tn.node
	tn.mu.Unlock()
	return copied, true
}

func (m *Manager) tracked(id int64) *trackedNode {
	m.mu.RLock()
	tn := m.nodes[id]
	m.mu.RUnlock()
	return tn
}

// Allocate picks one Available node from the pool for a probe: fewest
// uses first, then lowest response time. Returns nil when the pool is
// empty or has no available node; callers proceed without a proxy.
func (m *Manager) Allocate(poolID int64) *model.ProxyNode {
	var best *trackedNode
	var bestUses, bestLatency int64

	m.mu.RLock()
	for _, tn := range m.nodes {
		tn.mu.Lock()
		ok := tn.node.PoolID == poolID && tn.node.Status == model.NodeAvailable
		uses, latency := tn.node.UseCount, tn.node.ResponseTimeMs
		tn.mu.Unlock()
		if !ok {
			continue
		}
		if best == nil || uses < bestUses || (uses == bestUses && latency < bestLatency) {
			best, bestUses, bestLatency = tn, uses, latency
		}
	}
	m.mu.RUnlock()

	if best == nil {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Warn().Int64("pool_id", poolID).Msg("No available proxy in pool.")
		return nil
	}

	best.mu.Lock()
	best.node.UseCount++
	copied := *best.node
	best.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Manager")
	l.Debug().
		Int64("node_id", copied.ID).
		Str("address", copied.Address()).
		Int64("use_count", copied.UseCount).
		Msg("Allocated proxy node.")
	return &copied
}

// UpdateStats records the outcome of a probe routed through the node. It
// bumps the tallies only; status transitions belong to CheckNode.
func (m *Manager) UpdateStats(nodeID int64, success bool) {
	tn := m.tracked(nodeID)
	if tn == nil {
		return
	}
	tn.mu.Lock()
	if success {
		tn.node.SuccessCount++
	} else {
		tn.node.FailCount++
	}
	tn.mu.Unlock()
}

// CheckNode runs a liveness probe against the node and applies the
// resulting status transition. The node is Checking while the probe runs
// and unconditionally ends Available or Unavailable, whatever the probe
// does.
func (m *Manager) CheckNode(nodeID int64) bool {
	l := logger.WithComponent("ProxyPool/Manager")
	tn := m.tracked(nodeID)
	if tn == nil {
		l.Warn().Int64("node_id", nodeID).Msg("CheckNode: node not found.")
		return false
	}

	tn.mu.Lock()
	probe := *tn.node
	tn.node.Status = model.NodeChecking
	tn.mu.Unlock()

	latency, err := m.runCheck(&probe)

	tn.mu.Lock()
	tn.node.LastCheck = time.Now()
	if err == nil {
		tn.node.Status = model.NodeAvailable
		tn.node.SuccessCount++
		tn.node.ResponseTimeMs = latency
	} else {
		tn.node.Status = model.NodeUnavailable
		tn.node.FailCount++
	}
	tn.mu.Unlock()

	if err == nil {
		l.Debug().Int64("node_id", nodeID).Int64("latency_ms", latency).Msg("Proxy check passed.")
		return true
	}
	l.Debug().Int64("node_id", nodeID).Err(err).Msg("Proxy check failed.")
	return false
}

// runCheck shields the status machine from a misbehaving checker: a panic
// counts as a failed check, not a stuck node.
func (m *Manager) runCheck(n *model.ProxyNode) (latency int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return m.checker.Check(n)
}

// StuckChecking returns the ids of every node currently in Checking.
// At startup these are leftovers from a crashed process; between beats
// they are checks that silently failed to flip status.
func (m *Manager) StuckChecking() []int64 {
	return m.filterIDs(func(n *model.ProxyNode) bool {
		return n.Status == model.NodeChecking
	})
}

// HotNodes returns up to k node ids ranked by usage count descending,
// skipping nodes currently in Checking.
func (m *Manager) HotNodes(k int) []int64 {
	type hot struct {
		id   int64
		uses int64
	}
	var candidates []hot

	m.mu.RLock()
	for id, tn := range m.nodes {
		tn.mu.Lock()
		checking := tn.node.Status == model.NodeChecking
		uses := tn.node.UseCount
		tn.mu.Unlock()
		if checking {
			continue
		}
		candidates = append(candidates, hot{id: id, uses: uses})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].uses != candidates[j].uses {
			return candidates[i].uses > candidates[j].uses
		}
		return candidates[i].id < candidates[j].id
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}
	return ids
}

// NodesInPool returns the ids of every node in the pool.
func (m *Manager) NodesInPool(poolID int64) []int64 {
	return m.filterIDs(func(n *model.ProxyNode) bool {
		return n.PoolID == poolID
	})
}

// Pools returns the distinct pool ids present in the table.
func (m *Manager) Pools() []int64 {
	seen := make(map[int64]struct{})
	m.mu.RLock()
	for _, tn := range m.nodes {
		tn.mu.Lock()
		seen[tn.node.PoolID] = struct{}{}
		tn.mu.Unlock()
	}
	m.mu.RUnlock()

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PoolStats summarizes one pool for dashboards.
func (m *Manager) PoolStats(poolID int64) model.PoolStats {
	stats := model.PoolStats{PoolID: poolID}
	m.mu.RLock()
	for _, tn := range m.nodes {
		tn.mu.Lock()
		if tn.node.PoolID == poolID {
			stats.TotalNodes++
			switch tn.node.Status {
			case model.NodeAvailable:
				stats.AvailableNodes++
			case model.NodeChecking:
				stats.CheckingNodes++
			}
		}
		tn.mu.Unlock()
	}
	m.mu.RUnlock()
	return stats
}

// SnapshotAll returns copies of every node, sorted by id.
func (m *Manager) SnapshotAll() []model.ProxyNode {
	var out []model.ProxyNode
	m.mu.RLock()
	for _, tn := range m.nodes {
		tn.mu.Lock()
		out = append(out, *tn.node)
		tn.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) filterIDs(keep func(*model.ProxyNode) bool) []int64 {
	var ids []int64
	m.mu.RLock()
	for id, tn := range m.nodes {
		tn.mu.Lock()
		ok := keep(tn.node)
		tn.mu.Unlock()
		if ok {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
