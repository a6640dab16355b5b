package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DetectStatus classifies the outcome of one probe attempt.
type DetectStatus int

const (
	StatusRegistered      DetectStatus = 1
	StatusUnregistered    DetectStatus = 2
	StatusDetectionFailed DetectStatus = 3
	StatusAccountAbnormal DetectStatus = 4
	StatusProxyAbnormal   DetectStatus = 5
)

// Text returns the label used in logs and dashboards.
func (s DetectStatus) Text() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusUnregistered:
		return "unregistered"
	case StatusDetectionFailed:
		return "detection_failed"
	case StatusAccountAbnormal:
		return "account_abnormal"
	case StatusProxyAbnormal:
		return "proxy_abnormal"
	default:
		return "unknown"
	}
}

// TaskStatus is the lifecycle state of a DetectionTask.
type TaskStatus int

const (
	TaskPending   TaskStatus = 0
	TaskRunning   TaskStatus = 1
	TaskPaused    TaskStatus = 2
	TaskCompleted TaskStatus = 3
	TaskFailed    TaskStatus = 4
	TaskStopped   TaskStatus = 5
)

// ProbeTemplate is a parameterized HTTP request definition plus the
// success/fail classification rules evaluated against the JSON response.
// Header values and the body may contain the placeholder tokens
// {{account}} and {{timestamp}}. Immutable once a running task refers to it.
type ProbeTemplate struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	TargetSite     string            `json:"targetSite"`
	RequestURL     string            `json:"requestUrl"`
	RequestMethod  string            `json:"requestMethod"`
	RequestHeaders map[string]string `json:"requestHeaders,omitempty"`
	RequestBody    string            `json:"requestBody,omitempty"`
	SuccessRule    map[string]string `json:"successRule,omitempty"`
	FailRule       map[string]string `json:"failRule,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
	EnableProxy    bool              `json:"enableProxy"`
}

// Timeout returns the per-attempt timeout with a sane floor.
func (t *ProbeTemplate) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// DetectionTask is one unit of work comprising many probes over a single
// template and (optionally) one proxy pool. The aggregate counters are
// mutated only through Store.IncrProgress.
type DetectionTask struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	TemplateID     int64      `json:"templateId"`
	ProxyPoolID    int64      `json:"proxyPoolId,omitempty"` // 0 = no pool
	DataValues     []string   `json:"dataValues,omitempty"`
	Concurrency    int        `json:"concurrency,omitempty"`
	Priority       int        `json:"priority,omitempty"`
	TotalCount     int64      `json:"totalCount"`
	CompletedCount int64      `json:"completedCount"`
	SuccessCount   int64      `json:"successCount"`
	FailCount      int64      `json:"failCount"`
	Status         TaskStatus `json:"status"`
	CreateTime     time.Time  `json:"createTime,omitempty"`
	UpdateTime     time.Time  `json:"updateTime,omitempty"`
}

// DetectionResult is the append-only record of one probe attempt.
type DetectionResult struct {
	ID                string       `json:"id"`
	TaskID            int64        `json:"taskId"`
	AccountIdentifier string       `json:"accountIdentifier"`
	DetectStatus      DetectStatus `json:"detectStatus"`
	TargetSite        string       `json:"targetSite,omitempty"`
	UsedProxy         string       `json:"usedProxy,omitempty"`
	ResponseTimeMs    int64        `json:"responseTime"`
	ResponseData      string       `json:"responseData,omitempty"`
	ErrorMessage      string       `json:"errorMessage,omitempty"`
	DetectTime        time.Time    `json:"detectTime"`
}

// Server is one worker server of the fleet, tracked by the reachability
// watcher so dashboards can see which machines are alive.
type Server struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Status   int       `json:"status"` // 1 online, 2 offline
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// FlexID is an int64 that decodes from a JSON number or a decimal string.
// Queue payloads cross language boundaries and ids arrive both ways.
type FlexID int64

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	s := string(data)
	if s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", s, err)
	}
	*f = FlexID(n)
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(f), 10)), nil
}

// ProbeMessage is the wire record carried on the detection queue, one
// message per data value. It carries no other state, so replay is safe.
type ProbeMessage struct {
	TaskID      FlexID `json:"taskId"`
	TemplateID  FlexID `json:"templateId"`
	ProxyPoolID FlexID `json:"proxyPoolId,omitempty"`
	DataValue   string `json:"dataValue"`
}

// ProgressMessage is the wire record on the progress queue; it only names
// the task whose aggregate snapshot should be re-published.
type ProgressMessage struct {
	TaskID FlexID `json:"taskId"`
}

// ResultEvent is the JSON event pushed to per-task observers for every
// finished probe.
type ResultEvent struct {
	Type              string       `json:"type"`
	TaskID            int64        `json:"taskId"`
	AccountIdentifier string       `json:"accountIdentifier"`
	DetectStatus      DetectStatus `json:"detectStatus"`
	ResponseTimeMs    int64        `json:"responseTime"`
	DetectTime        string       `json:"detectTime"`
}
