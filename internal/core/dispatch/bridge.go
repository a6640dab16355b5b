package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"regprobe/internal/queue"
	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
	"regprobe/internal/store"
)

// Prober is the executor seen from the bridge. One call per probe
// message; it never fails, it classifies.
type Prober interface {
	Execute(ctx context.Context, taskID, templateID, proxyPoolID int64, value string) *types.DetectionResult
}

// Publisher relays per-item results and aggregate progress to live
// observers. Best-effort; a nil publisher is allowed.
type Publisher interface {
	PublishResult(taskID int64, event *types.ResultEvent)
	PublishProgress(taskID int64, task *types.DetectionTask)
}

// Bridge is both sides of the task dispatch: the producer fans a task out
// into one queued probe message per data value; the consumer turns each
// message into an executed probe, a progress increment and an observer
// notification.
type Bridge struct {
	store     store.Store
	transport queue.Queue
	prober    Prober
	publisher Publisher

	detectionQueue string
	progressQueue  string
	workers        int
}

func New(st store.Store, transport queue.Queue, prober Prober, publisher Publisher, cfg types.QueueConf) *Bridge {
	return &Bridge{
		store:          st,
		transport:      transport,
		prober:         prober,
		publisher:      publisher,
		detectionQueue: cfg.DetectionQueue,
		progressQueue:  cfg.ProgressQueue,
		workers:        cfg.ConsumerWorkers,
	}
}

// Dispatch splits the task into one ProbeMessage per data value and
// enqueues each independently. Transport ordering is not preserved and
// consumers must not assume any.
func (b *Bridge) Dispatch(ctx context.Context, task *types.DetectionTask) error {
	l := logger.WithComponent("Dispatch/Producer")

	task.TotalCount = int64(len(task.DataValues))
	task.CompletedCount = 0
	task.SuccessCount = 0
	task.FailCount = 0
	task.Status = types.TaskRunning
	if task.CreateTime.IsZero() {
		task.CreateTime = time.Now()
	}
	if err := b.store.SaveTask(ctx, task); err != nil {
		return err
	}

	enqueued := 0
	for _, value := range task.DataValues {
		msg := types.ProbeMessage{
			TaskID:      types.FlexID(task.ID),
			TemplateID:  types.FlexID(task.TemplateID),
			ProxyPoolID: types.FlexID(task.ProxyPoolID),
			DataValue:   value,
		}
		payload, err := json.Marshal(&msg)
		if err != nil {
			l.Error().Int64("task_id", task.ID).Str("value", value).Err(err).Msg("Failed to encode probe message.")
			continue
		}
		if err := b.transport.Publish(ctx, b.detectionQueue, payload); err != nil {
			l.Error().Int64("task_id", task.ID).Str("value", value).Err(err).Msg("Failed to enqueue probe message.")
			continue
		}
		enqueued++
	}

	l.Info().Int64("task_id", task.ID).Int("enqueued", enqueued).Int("total", len(task.DataValues)).Msg("Task dispatched.")
	return nil
}

// Run starts the detection and progress consumers and blocks until ctx
// is canceled.
func (b *Bridge) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.transport.Consume(ctx, b.detectionQueue, b.workers, func(payload []byte) {
			b.handleDetection(ctx, payload)
		})
	}()
	go func() {
		defer wg.Done()
		b.transport.Consume(ctx, b.progressQueue, 1, func(payload []byte) {
			b.handleProgress(ctx, payload)
		})
	}()
	wg.Wait()
}

// handleDetection processes one probe message end to end. Any failure is
// logged and the message dropped; the consumer loop always continues.
// Replayed messages produce an extra result and an extra increment:
// delivery is at-least-once, processing is not deduplicated.
func (b *Bridge) handleDetection(ctx context.Context, payload []byte) {
	l := logger.WithComponent("Dispatch/Consumer")

	var msg types.ProbeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.Error().Err(err).Str("payload", string(payload)).Msg("Dropping undecodable probe message.")
		return
	}
	taskID := int64(msg.TaskID)
	if taskID == 0 || msg.DataValue == "" {
		l.Error().Str("payload", string(payload)).Msg("Dropping incomplete probe message.")
		return
	}

	task, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Warn().Int64("task_id", taskID).Msg("Dropping probe message for unknown task.")
		} else {
			l.Error().Int64("task_id", taskID).Err(err).Msg("Task lookup failed, dropping probe message.")
		}
		return
	}
	if task.Status == types.TaskStopped || task.Status == types.TaskPaused {
		l.Debug().Int64("task_id", taskID).Str("value", msg.DataValue).Msg("Task is not running, discarding probe message.")
		return
	}

	result := b.prober.Execute(ctx, taskID, int64(msg.TemplateID), int64(msg.ProxyPoolID), msg.DataValue)

	success := result.DetectStatus == types.StatusRegistered || result.DetectStatus == types.StatusUnregistered
	updated, err := b.store.IncrProgress(ctx, taskID, success)
	if err != nil {
		l.Error().Int64("task_id", taskID).Err(err).Msg("Failed to update task progress.")
	} else if updated.Status == types.TaskCompleted {
		l.Info().Int64("task_id", taskID).Int64("total", updated.TotalCount).Msg("Task completed.")
	}

	if b.publisher != nil {
		b.publisher.PublishResult(taskID, &types.ResultEvent{
			Type:              "detection_result",
			TaskID:            taskID,
			AccountIdentifier: result.AccountIdentifier,
			DetectStatus:      result.DetectStatus,
			ResponseTimeMs:    result.ResponseTimeMs,
			DetectTime:        result.DetectTime.Format(time.RFC3339),
		})
	}

	b.nudgeProgress(ctx, taskID)
}

// nudgeProgress enqueues a "recompute and re-publish progress" signal.
func (b *Bridge) nudgeProgress(ctx context.Context, taskID int64) {
	payload, err := json.Marshal(&types.ProgressMessage{TaskID: types.FlexID(taskID)})
	if err != nil {
		return
	}
	if err := b.transport.Publish(ctx, b.progressQueue, payload); err != nil {
		l := logger.WithComponent("Dispatch/Consumer")
		l.Warn().Int64("task_id", taskID).Err(err).Msg("Failed to enqueue progress update.")
	}
}

// handleProgress re-reads the task snapshot and pushes it to observers.
func (b *Bridge) handleProgress(ctx context.Context, payload []byte) {
	l := logger.WithComponent("Dispatch/Progress")

	var msg types.ProgressMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.Error().Err(err).Msg("Dropping undecodable progress message.")
		return
	}
	taskID := int64(msg.TaskID)

	task, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		l.Warn().Int64("task_id", taskID).Err(err).Msg("Progress lookup failed.")
		return
	}
	if b.publisher != nil {
		b.publisher.PublishProgress(taskID, task)
	}
}
