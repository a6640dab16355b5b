package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"regprobe/internal/shared/types"
)

// Task counters live as individual hash fields so concurrent consumer
// workers can HINCRBY them atomically; the rest of the task record is one
// JSON blob in the same hash.
const (
	fieldData      = "data"
	fieldTotal     = "total"
	fieldCompleted = "completed"
	fieldSucceeded = "succeeded"
	fieldFailed    = "failed"
	fieldStatus    = "status"
)

// RedisStore implements Store on top of a shared redis client.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func templateKey(id int64) string { return fmt.Sprintf("template:%d", id) }
func taskKey(id int64) string     { return fmt.Sprintf("task:%d", id) }
func resultsKey(id int64) string  { return fmt.Sprintf("task:%d:results", id) }
func serverKey(id int64) string   { return fmt.Sprintf("server:%d", id) }

const serverIndexKey = "servers"

func (s *RedisStore) GetTemplate(ctx context.Context, id int64) (*types.ProbeTemplate, error) {
	data, err := s.rdb.Get(ctx, templateKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var tpl types.ProbeTemplate
	if err := json.Unmarshal([]byte(data), &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *RedisStore) SaveTemplate(ctx context.Context, tpl *types.ProbeTemplate) error {
	data, err := json.Marshal(tpl)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, templateKey(tpl.ID), data, 0).Err()
}

func (s *RedisStore) GetTask(ctx context.Context, id int64) (*types.DetectionTask, error) {
	fields, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var task types.DetectionTask
	if err := json.Unmarshal([]byte(fields[fieldData]), &task); err != nil {
		return nil, err
	}
	task.TotalCount = parseCounter(fields[fieldTotal])
	task.CompletedCount = parseCounter(fields[fieldCompleted])
	task.SuccessCount = parseCounter(fields[fieldSucceeded])
	task.FailCount = parseCounter(fields[fieldFailed])
	task.Status = types.TaskStatus(parseCounter(fields[fieldStatus]))
	return &task, nil
}

func (s *RedisStore) SaveTask(ctx context.Context, task *types.DetectionTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, taskKey(task.ID), map[string]interface{}{
		fieldData:      string(data),
		fieldTotal:     task.TotalCount,
		fieldCompleted: task.CompletedCount,
		fieldSucceeded: task.SuccessCount,
		fieldFailed:    task.FailCount,
		fieldStatus:    int(task.Status),
	}).Err()
}

func (s *RedisStore) SetTaskStatus(ctx context.Context, id int64, status types.TaskStatus) error {
	exists, err := s.rdb.Exists(ctx, taskKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.rdb.HSet(ctx, taskKey(id), fieldStatus, int(status)).Err()
}

func (s *RedisStore) IncrProgress(ctx context.Context, taskID int64, success bool) (*types.DetectionTask, error) {
	key := taskKey(taskID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	outcomeField := fieldFailed
	if success {
		outcomeField = fieldSucceeded
	}

	pipe := s.rdb.TxPipeline()
	completedCmd := pipe.HIncrBy(ctx, key, fieldCompleted, 1)
	pipe.HIncrBy(ctx, key, outcomeField, 1)
	totalCmd := pipe.HGet(ctx, key, fieldTotal)
	statusCmd := pipe.HGet(ctx, key, fieldStatus)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	completed := completedCmd.Val()
	total := parseCounter(totalCmd.Val())
	status := types.TaskStatus(parseCounter(statusCmd.Val()))
	if total > 0 && completed >= total && status == types.TaskRunning {
		if err := s.rdb.HSet(ctx, key, fieldStatus, int(types.TaskCompleted)).Err(); err != nil {
			return nil, err
		}
	}
	return s.GetTask(ctx, taskID)
}

func (s *RedisStore) SaveResult(ctx context.Context, result *types.DetectionResult) error {
	if result.DetectTime.IsZero() {
		result.DetectTime = time.Now()
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, resultsKey(result.TaskID), data).Err()
}

func (s *RedisStore) ResultsByTask(ctx context.Context, taskID int64) ([]*types.DetectionResult, error) {
	items, err := s.rdb.LRange(ctx, resultsKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.DetectionResult, 0, len(items))
	for _, item := range items {
		var r types.DetectionResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *RedisStore) GetServer(ctx context.Context, id int64) (*types.Server, error) {
	data, err := s.rdb.Get(ctx, serverKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var server types.Server
	if err := json.Unmarshal([]byte(data), &server); err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *RedisStore) SaveServer(ctx context.Context, server *types.Server) error {
	data, err := json.Marshal(server)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, serverKey(server.ID), data, 0)
	pipe.SAdd(ctx, serverIndexKey, server.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListServers(ctx context.Context) ([]*types.Server, error) {
	ids, err := s.rdb.SMembers(ctx, serverIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Server, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		server, err := s.GetServer(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	return out, nil
}

func parseCounter(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
