// Package ports finds free TCP ports for the two local servers started by the
// launcher: the backend RPC server and the UI server.
//
// Ports are chosen by probing: an ephemeral listener is bound on loopback to
// learn a free base port, a fixed offset is added to it, and the resulting
// candidate is verified by binding it before it is handed out.
package ports

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

const (
	// DefaultMaxAttempts is the number of offset candidates tried before
	// falling back to a plain ephemeral port.
	DefaultMaxAttempts = 20

	// DefaultMaxCollisionRetries bounds how often the UI port is re-acquired
	// when it collides with the RPC port.
	DefaultMaxCollisionRetries = 10

	// DefaultHost is the interface used for probing.
	DefaultHost = "127.0.0.1"

	maxPort = 65535
)

// Attempt results reported to an Observer.
const (
	ResultOffset    = "offset"
	ResultBusy      = "busy"
	ResultOverflow  = "overflow"
	ResultFallback  = "fallback"
	ResultCollision = "collision"
)

var (
	// ErrPortCollision is returned when the RPC and UI allocations keep
	// returning the same port.
	ErrPortCollision = errors.New("ports: rpc and ui ports collide")

	// ErrNoEphemeralPort is returned when not even an ephemeral port can be bound.
	ErrNoEphemeralPort = errors.New("ports: unable to bind an ephemeral port")
)

// Pair holds the two ports chosen for a launch.
type Pair struct {
	RPC uint16
	UI  uint16
}

// String renders the pair for logs.
func (p Pair) String() string {
	return fmt.Sprintf("rpc=%d ui=%d", p.RPC, p.UI)
}

// Observer receives one call per allocation attempt.
type Observer interface {
	PortAttempt(result string)
}

type noopObserver struct{}

func (noopObserver) PortAttempt(string) {}

// ListenFunc binds a listener; it matches net.Listen.
type ListenFunc func(network, address string) (net.Listener, error)

// Allocator hands out verified-free TCP ports.
type Allocator struct {
	host                string
	maxAttempts         int
	maxCollisionRetries int
	observer            Observer
	logger              *slog.Logger
	listen              ListenFunc
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithHost sets the interface used for probing.
func WithHost(host string) Option {
	return func(a *Allocator) {
		a.host = host
	}
}

// WithMaxAttempts sets the number of offset attempts before falling back.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		a.maxAttempts = n
	}
}

// WithMaxCollisionRetries sets how often a colliding UI port is re-acquired.
func WithMaxCollisionRetries(n int) Option {
	return func(a *Allocator) {
		a.maxCollisionRetries = n
	}
}

// WithObserver sets the attempt observer.
func WithObserver(o Observer) Option {
	return func(a *Allocator) {
		a.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) {
		a.logger = l
	}
}

// WithListenFunc replaces net.Listen.
func WithListenFunc(fn ListenFunc) Option {
	return func(a *Allocator) {
		a.listen = fn
	}
}

// NewAllocator creates an Allocator with defaults applied.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		host:                DefaultHost,
		maxAttempts:         DefaultMaxAttempts,
		maxCollisionRetries: DefaultMaxCollisionRetries,
		observer:            noopObserver{},
		logger:              slog.Default(),
		listen:              net.Listen,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.maxAttempts < 1 {
		a.maxAttempts = 1
	}
	if a.maxCollisionRetries < 0 {
		a.maxCollisionRetries = 0
	}

	return a
}

// AcquireNear returns a free port close to ephemeral+offset. When no such
// candidate can be bound within the attempt budget it returns a plain
// ephemeral port.
func (a *Allocator) AcquireNear(offset uint16) (uint16, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		base, err := a.ephemeral()
		if err != nil {
			return 0, err
		}

		// Widened so base+offset cannot wrap around.
		candidate := uint32(base) + uint32(offset)
		if candidate > maxPort {
			a.observer.PortAttempt(ResultOverflow)
			a.logger.Debug("port candidate out of range",
				"attempt", attempt,
				"base", base,
				"offset", offset)
			continue
		}

		if a.probe(uint16(candidate)) {
			a.observer.PortAttempt(ResultOffset)
			a.logger.Debug("acquired port",
				"port", candidate,
				"base", base,
				"offset", offset,
				"attempt", attempt)
			return uint16(candidate), nil
		}

		a.observer.PortAttempt(ResultBusy)
		a.logger.Debug("port candidate busy", "attempt", attempt, "port", candidate)
	}

	port, err := a.ephemeral()
	if err != nil {
		return 0, err
	}

	a.observer.PortAttempt(ResultFallback)
	a.logger.Debug("falling back to ephemeral port",
		"port", port,
		"offset", offset,
		"attempts", a.maxAttempts)

	return port, nil
}

// AcquirePair acquires the RPC port and then a distinct UI port.
func (a *Allocator) AcquirePair(rpcOffset, uiOffset uint16) (Pair, error) {
	rpc, err := a.AcquireNear(rpcOffset)
	if err != nil {
		return Pair{}, fmt.Errorf("acquire rpc port: %w", err)
	}

	for retry := 0; retry <= a.maxCollisionRetries; retry++ {
		ui, err := a.AcquireNear(uiOffset)
		if err != nil {
			return Pair{}, fmt.Errorf("acquire ui port: %w", err)
		}

		if ui != rpc {
			return Pair{RPC: rpc, UI: ui}, nil
		}

		a.observer.PortAttempt(ResultCollision)
		a.logger.Debug("ui port collides with rpc port", "port", ui, "retry", retry)
	}

	return Pair{}, fmt.Errorf("%w: port %d after %d retries", ErrPortCollision, rpc, a.maxCollisionRetries)
}

// ephemeral binds port 0 and returns the port the OS picked.
func (a *Allocator) ephemeral() (uint16, error) {
	ln, err := a.listen("tcp", net.JoinHostPort(a.host, "0"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoEphemeralPort, err)
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok || addr.Port <= 0 || addr.Port > maxPort {
		return 0, fmt.Errorf("%w: unexpected address %v", ErrNoEphemeralPort, ln.Addr())
	}

	return uint16(addr.Port), nil
}

// probe reports whether port can be bound right now.
func (a *Allocator) probe(port uint16) bool {
	ln, err := a.listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
