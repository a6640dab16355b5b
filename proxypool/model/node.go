package model

import (
	"fmt"
	"net/url"
	"time"
)

// NodeStatus is the liveness state of a proxy node. A node performing a
// check holds NodeChecking for the duration of that check and must exit
// to NodeAvailable or NodeUnavailable when it completes.
type NodeStatus int

const (
	NodeAvailable   NodeStatus = 1
	NodeUnavailable NodeStatus = 2
	NodeChecking    NodeStatus = 3
)

func (s NodeStatus) Text() string {
	switch s {
	case NodeAvailable:
		return "available"
	case NodeUnavailable:
		return "unavailable"
	case NodeChecking:
		return "checking"
	default:
		return "unknown"
	}
}

// ProxyNode is one forward-proxy endpoint inside a pool. Status and the
// counters are mutated exclusively by the pool manager.
type ProxyNode struct {
	ID       int64  `json:"id"`
	PoolID   int64  `json:"poolId"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Scheme   string `json:"scheme"` // "http", "https" or "socks5"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Status         NodeStatus `json:"status"`
	UseCount       int64      `json:"useCount"`
	SuccessCount   int64      `json:"successCount"`
	FailCount      int64      `json:"failCount"`
	ResponseTimeMs int64      `json:"responseTime"`
	LastCheck      time.Time  `json:"lastCheck,omitempty"`
}

// Address returns the host:port endpoint of the node.
func (n *ProxyNode) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// URL renders the node as a proxy URL, including credentials when set.
func (n *ProxyNode) URL() *url.URL {
	scheme := n.Scheme
	if scheme == "" || scheme == "https" {
		// An https pool still speaks plain CONNECT to the proxy itself.
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: n.Address()}
	if n.Username != "" {
		u.User = url.UserPassword(n.Username, n.Password)
	}
	return u
}

// PoolStats is the derived per-pool summary shown on dashboards.
type PoolStats struct {
	PoolID         int64 `json:"poolId"`
	TotalNodes     int   `json:"totalNodes"`
	AvailableNodes int   `json:"availableNodes"`
	CheckingNodes  int   `json:"checkingNodes"`
}
