package storage

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"regprobe/internal/shared/logger"
	"regprobe/proxypool/model"
)

const (
	delimiter = "|"
	numFields = 13 // ID|PoolID|Host|Port|Scheme|Username|Password|Status|UseCount|SuccessCount|FailCount|ResponseTimeMs|LastCheck
)

// Storage defines how the proxy node table is persisted. The durable copy
// is what makes crash recovery possible: nodes left in "checking" survive
// a restart and are re-submitted by the startup sweep.
type Storage interface {
	Load() (map[int64]*model.ProxyNode, error)
	Save(nodes map[int64]*model.ProxyNode) error
}

// FileStorage persists the node table as pipe-delimited plain text.
type FileStorage struct {
	filePath string
	mu       sync.Mutex
}

func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{filePath: filePath}
}

// Load reads the node table into memory. A missing file yields an empty
// table, not an error.
func (fs *FileStorage) Load() (map[int64]*model.ProxyNode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Proxy data file not found, starting with an empty pool.")
			return make(map[int64]*model.ProxyNode), nil
		}
		return nil, err
	}
	defer file.Close()

	nodeMap := make(map[int64]*model.ProxyNode)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, delimiter)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed line in proxy file.")
			continue
		}

		n, err := parseNode(fields)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse proxy node from line, skipping.")
			continue
		}
		nodeMap[n.ID] = n
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.Info().Int("count", len(nodeMap)).Msg("Successfully loaded proxy nodes from file.")
	return nodeMap, nil
}

// Save writes the node table to disk, sorted by id for stable diffs.
func (fs *FileStorage) Save(nodes map[int64]*model.ProxyNode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	nodeList := make([]*model.ProxyNode, 0, len(nodes))
	for _, n := range nodes {
		nodeList = append(nodeList, n)
	}
	sort.Slice(nodeList, func(i, j int) bool {
		return nodeList[i].ID < nodeList[j].ID
	})

	var sb strings.Builder
	for _, n := range nodeList {
		sb.WriteString(formatNode(n))
		sb.WriteString("\n")
	}

	if err := os.WriteFile(fs.filePath, []byte(sb.String()), 0644); err != nil {
		return err
	}

	l := logger.WithComponent("ProxyPool/Storage")
	l.Debug().Int("count", len(nodeList)).Msg("Saved proxy nodes to file.")
	return nil
}

func formatNode(n *model.ProxyNode) string {
	return strings.Join([]string{
		strconv.FormatInt(n.ID, 10),
		strconv.FormatInt(n.PoolID, 10),
		n.Host,
		strconv.Itoa(n.Port),
		n.Scheme,
		n.Username,
		n.Password,
		strconv.Itoa(int(n.Status)),
		strconv.FormatInt(n.UseCount, 10),
		strconv.FormatInt(n.SuccessCount, 10),
		strconv.FormatInt(n.FailCount, 10),
		strconv.FormatInt(n.ResponseTimeMs, 10),
		strconv.FormatInt(n.LastCheck.Unix(), 10),
	}, delimiter)
}

func parseNode(fields []string) (*model.ProxyNode, error) {
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	poolID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid pool_id: %w", err)
	}
	port, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}
	status, err := strconv.Atoi(fields[7])
	if err != nil {
		return nil, fmt.Errorf("invalid status: %w", err)
	}
	useCount, err := strconv.ParseInt(fields[8], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid use_count: %w", err)
	}
	successCount, err := strconv.ParseInt(fields[9], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid success_count: %w", err)
	}
	failCount, err := strconv.ParseInt(fields[10], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid fail_count: %w", err)
	}
	responseTime, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid response_time: %w", err)
	}
	lastCheckUnix, err := strconv.ParseInt(fields[12], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid last_check: %w", err)
	}

	n := &model.ProxyNode{
		ID:             id,
		PoolID:         poolID,
		Host:           fields[2],
		Port:           port,
		Scheme:         fields[4],
		Username:       fields[5],
		Password:       fields[6],
		Status:         model.NodeStatus(status),
		UseCount:       useCount,
		SuccessCount:   successCount,
		FailCount:      failCount,
		ResponseTimeMs: responseTime,
	}
	if lastCheckUnix > 0 {
		n.LastCheck = time.Unix(lastCheckUnix, 0)
	}
	return n, nil
}
