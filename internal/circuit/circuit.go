package circuit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/google/uuid"

	"github.com/uloget/uloget/internal/errs"
)

// Client wraps a Supervisor with the ensureRunning/newIdentity/proxied/stop
// operations C4 and the controller need. It is idempotent: calling
// EnsureRunning more than once only launches the subprocess the first
// time.
type Client struct {
	mu         sync.Mutex
	supervisor Supervisor
	baseDir    string
	portBase   int
	connTimeout time.Duration

	running    bool
	socksPort  int
	dataDir    string
}

// New returns a Client that will launch sup under tempDir on first use.
func New(sup Supervisor, tempDir string, portBase int, connTimeout time.Duration) *Client {
	return &Client{supervisor: sup, baseDir: tempDir, portBase: portBase, connTimeout: connTimeout}
}

// EnsureRunning idempotently launches the subprocess, recording its SOCKS
// port for use by Proxied.
func (c *Client) EnsureRunning(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	c.dataDir = fmt.Sprintf("%s/circuit-%s", c.baseDir, uuid.NewString())
	socksPort, _, err := c.supervisor.Start(ctx, c.dataDir)
	if err != nil {
		return errs.New(errs.Transport, err)
	}
	c.socksPort = socksPort
	c.running = true
	return nil
}

// NewIdentity requests a fresh exit circuit from the running subprocess.
func (c *Client) NewIdentity(ctx context.Context) error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return errs.New(errs.Transport, fmt.Errorf("circuit not running"))
	}
	if err := c.supervisor.NewIdentity(ctx); err != nil {
		return errs.New(errs.Transport, err)
	}
	return nil
}

// Proxied returns an *http.Client configured to dial through the
// subprocess's SOCKS5 endpoint, grounded in the teacher's
// internal/engine/single/downloader.go proxy.SOCKS5 wiring.
func (c *Client) Proxied() (*http.Client, error) {
	c.mu.Lock()
	socksPort := c.socksPort
	running := c.running
	c.mu.Unlock()
	if !running {
		return nil, errs.New(errs.Transport, fmt.Errorf("circuit not running"))
	}

	addr := fmt.Sprintf("127.0.0.1:%d", socksPort)
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, errs.New(errs.Transport, err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		},
	}
	return &http.Client{Transport: transport, Timeout: c.connTimeout}, nil
}

// Stop terminates the subprocess and removes its transient data directory.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	return c.supervisor.Stop()
}

// twoFreePorts probes sequentially from base and returns the first two
// free TCP ports it finds (not necessarily adjacent), grounded in
// torrunner.py's _two_free_ports.
func twoFreePorts(base int) (int, int, error) {
	var found []int
	for port := base; port < base+1000 && len(found) < 2; port++ {
		if portFree(port) {
			found = append(found, port)
		}
	}
	if len(found) < 2 {
		return 0, 0, fmt.Errorf("could not find two free ports starting at %d", base)
	}
	return found[0], found[1], nil
}

func portFree(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
	if err == nil {
		conn.Close()
		return false // something is listening
	}
	return true
}
