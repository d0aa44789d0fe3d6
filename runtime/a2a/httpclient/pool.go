package httpclient

import (
	"sync"
)

// Pool shares one client per agent URL. Clients are created on first use and
// never evicted; CloseAll releases idle transport connections.
type Pool struct {
	mu      sync.Mutex
	opts    []Option
	clients map[string]*Client
}

// NewPool returns an empty pool. The options apply to every client the pool
// creates.
func NewPool(opts ...Option) *Pool {
	return &Pool{
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Get returns the shared client for url, creating it on first call.
func (p *Pool) Get(url string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[url]; ok {
		return c
	}
	c := New(url, p.opts...)
	p.clients[url] = c
	return c
}

// CloseAll closes idle connections held by every pooled client and empties
// the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.http.CloseIdleConnections()
	}
	p.clients = make(map[string]*Client)
}

// Len reports the number of pooled clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

var (
	globalMu   sync.Mutex
	globalPool *Pool
)

// GlobalPool returns the process-wide pool, creating it on first use.
func GlobalPool() *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalPool == nil {
		globalPool = NewPool()
	}
	return globalPool
}

// ResetGlobalPool closes the current global pool before replacing it so test
// teardown does not leak connections.
func ResetGlobalPool() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalPool != nil {
		globalPool.CloseAll()
	}
	globalPool = nil
}
