package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	xproxy "golang.org/x/net/proxy"

	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
	"regprobe/internal/store"
	"regprobe/proxypool/model"
)

// ProxyAllocator is the slice of the pool manager the executor needs: one
// node per probe plus an outcome report. The executor never mutates node
// state itself.
type ProxyAllocator interface {
	Allocate(poolID int64) *model.ProxyNode
	UpdateStats(nodeID int64, success bool)
}

// Executor performs one account probe: render the template, send the
// request (through an allocated proxy when the template wants one) and
// classify the response. It never returns an error; every failure is
// folded into the result record.
type Executor struct {
	store     store.Store
	allocator ProxyAllocator
}

func New(st store.Store, allocator ProxyAllocator) *Executor {
	return &Executor{store: st, allocator: allocator}
}

// Execute runs a single probe attempt and persists its result. Exactly
// one outbound HTTP call, one proxy stats update and one stored result;
// no retries, no caching. Retry policy, if any, belongs to the caller.
func (e *Executor) Execute(ctx context.Context, taskID, templateID, proxyPoolID int64, value string) *types.DetectionResult {
	l := logger.WithComponent("Executor")
	l.Debug().Int64("task_id", taskID).Int64("template_id", templateID).Str("value", value).Msg("Starting probe.")

	result := &types.DetectionResult{
		ID:                uuid.NewString(),
		TaskID:            taskID,
		AccountIdentifier: value,
		DetectTime:        time.Now(),
	}

	tpl, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		result.DetectStatus = types.StatusDetectionFailed
		if errors.Is(err, store.ErrNotFound) {
			result.ErrorMessage = "template not found"
		} else {
			result.ErrorMessage = "template lookup failed: " + err.Error()
		}
		e.persist(ctx, result)
		return result
	}
	result.TargetSite = tpl.TargetSite

	// Allocation failure is not a probe failure: an empty pool means the
	// probe proceeds without a proxy.
	var node *model.ProxyNode
	if tpl.EnableProxy && proxyPoolID > 0 {
		node = e.allocator.Allocate(proxyPoolID)
		if node != nil {
			result.UsedProxy = node.Address()
		}
	}

	start := time.Now()
	body, err := e.sendRequest(ctx, tpl, node, value)
	result.ResponseTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		result.DetectStatus = types.StatusDetectionFailed
		result.ErrorMessage = err.Error()
	} else {
		result.ResponseData = string(body)
		status, msg := classify(body, tpl)
		result.DetectStatus = status
		result.ErrorMessage = msg
	}

	// The proxy gets credit whenever it round-tripped a classifiable
	// response, regardless of which way the classification went.
	if node != nil {
		ok := result.DetectStatus == types.StatusRegistered || result.DetectStatus == types.StatusUnregistered
		e.allocator.UpdateStats(node.ID, ok)
	}

	l.Info().
		Int64("task_id", taskID).
		Str("value", value).
		Str("status", result.DetectStatus.Text()).
		Int64("latency_ms", result.ResponseTimeMs).
		Msg("Probe finished.")

	e.persist(ctx, result)
	return result
}

// sendRequest issues the rendered probe, honoring the template timeout
// for connect and read, and returns the body of a 200 response. Any other
// status is a hard failure for the attempt.
func (e *Executor) sendRequest(ctx context.Context, tpl *types.ProbeTemplate, node *model.ProxyNode, value string) ([]byte, error) {
	rendered := render(tpl, value)

	client, err := buildClient(tpl.Timeout(), node)
	if err != nil {
		return nil, err
	}
	defer client.CloseIdleConnections()

	var bodyReader io.Reader
	if rendered.Body != "" {
		bodyReader = strings.NewReader(rendered.Body)
	}
	req, err := http.NewRequestWithContext(ctx, rendered.Method, rendered.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range rendered.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// buildClient constructs a one-shot client, routed through the node when
// one was allocated. Redirects are not followed: a 3xx is a non-200
// outcome, never a success signal.
func buildClient(timeout time.Duration, node *model.ProxyNode) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: timeout,
		DisableKeepAlives:   true,
	}

	if node != nil {
		if node.Scheme == "socks5" {
			var auth *xproxy.Auth
			if node.Username != "" {
				auth = &xproxy.Auth{User: node.Username, Password: node.Password}
			}
			socksDialer, err := xproxy.SOCKS5("tcp", node.Address(), auth, dialer)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			transport.DialContext = socksDialer.(xproxy.ContextDialer).DialContext
		} else {
			transport.Proxy = http.ProxyURL(node.URL())
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func (e *Executor) persist(ctx context.Context, result *types.DetectionResult) {
	if err := e.store.SaveResult(ctx, result); err != nil {
		l := logger.WithComponent("Executor")
		l.Error().
			Int64("task_id", result.TaskID).
			Str("value", result.AccountIdentifier).
			Err(err).
			Msg("Failed to persist detection result.")
	}
}
