package checker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"regprobe/proxypool/model"
)

// Checker performs the liveness probe for a single proxy node. The probe
// carries its own timeout, independent of any caller's deadline.
type Checker struct {
	timeout    time.Duration
	targetURL  string // fetched through http/https proxies
	targetAddr string // host:port dialed through socks5 proxies
}

func New(timeout time.Duration, targetURL, targetAddr string) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		timeout:    timeout,
		targetURL:  targetURL,
		targetAddr: targetAddr,
	}
}

// Check round-trips the node once and returns the observed latency. The
// node itself is never mutated here; the manager owns all state changes.
func (c *Checker) Check(n *model.ProxyNode) (int64, error) {
	start := time.Now()
	var err error
	switch n.Scheme {
	case "socks5":
		err = c.checkSocks5(n)
	default:
		err = c.checkHTTP(n)
	}
	if err != nil {
		return 0, err
	}
	return time.Since(start).Milliseconds(), nil
}

// checkHTTP fetches the target URL through the proxy. Redirect statuses
// still prove the proxy round-trips, so 2xx and 3xx both pass.
func (c *Checker) checkHTTP(n *model.ProxyNode) error {
	dialer := &net.Dialer{
		Timeout:   c.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy: http.ProxyURL(n.URL()),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: c.timeout / 2,
		IdleConnTimeout:     c.timeout,
		DisableKeepAlives:   true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequest(http.MethodGet, c.targetURL, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}
	return nil
}

// checkSocks5 dials the target address through the SOCKS5 proxy.
func (c *Checker) checkSocks5(n *model.ProxyNode) error {
	var auth *proxy.Auth
	if n.Username != "" {
		auth = &proxy.Auth{User: n.Username, Password: n.Password}
	}

	dialer, err := proxy.SOCKS5("tcp", n.Address(), auth, &net.Dialer{Timeout: c.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", c.targetAddr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
