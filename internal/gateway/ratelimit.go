package gateway

import (
	"net"
	"sync"
	"time"
)

// Handshake failure limits per remote host.
const (
	failureWindow = 5 * time.Minute
	maxFailures   = 10
	maxHosts      = 10000
)

// failureLimiter refuses hosts that failed too many handshakes within a
// fixed window. The window of a host starts at its first failure.
type failureLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	cap    int
	hosts  map[string]*failureCount
	now    func() time.Time
}

type failureCount struct {
	n     int
	since time.Time
}

func newFailureLimiter(window time.Duration, max, capacity int) *failureLimiter {
	return &failureLimiter{
		window: window,
		max:    max,
		cap:    capacity,
		hosts:  make(map[string]*failureCount),
		now:    time.Now,
	}
}

// hostOf strips the port from a remote address.
func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Allow reports whether addr may attempt a handshake.
func (l *failureLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	fc, ok := l.hosts[hostOf(addr)]
	if !ok {
		return true
	}
	if l.now().Sub(fc.since) >= l.window {
		delete(l.hosts, hostOf(addr))
		return true
	}
	return fc.n < l.max
}

// Fail records a failed handshake from addr.
func (l *failureLimiter) Fail(addr string) {
	host := hostOf(addr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	fc, ok := l.hosts[host]
	if ok && now.Sub(fc.since) < l.window {
		fc.n++
		return
	}
	if !ok && len(l.hosts) >= l.cap {
		l.pruneLocked(now)
		if len(l.hosts) >= l.cap {
			l.evictOldestLocked()
		}
	}
	l.hosts[host] = &failureCount{n: 1, since: now}
}

// Prune drops expired windows and returns how many hosts remain tracked.
func (l *failureLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.hosts)
}

func (l *failureLimiter) pruneLocked(now time.Time) {
	for host, fc := range l.hosts {
		if now.Sub(fc.since) >= l.window {
			delete(l.hosts, host)
		}
	}
}

func (l *failureLimiter) evictOldestLocked() {
	var oldest string
	var since time.Time
	for host, fc := range l.hosts {
		if oldest == "" || fc.since.Before(since) {
			oldest, since = host, fc.since
		}
	}
	delete(l.hosts, oldest)
}
