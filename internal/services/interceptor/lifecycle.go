package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/louisbranch/todo.space/internal/services/interceptor/cachetier"
	"golang.org/x/sync/errgroup"
)

// DefaultVersion tags the cache tier when Options.Version is empty.
const DefaultVersion = "1"

var (
	// ErrInstall indicates the install transition failed and nothing was
	// cached for the version.
	ErrInstall = errors.New("install failed")
	// ErrPhase indicates a transition requested from the wrong phase.
	ErrPhase = errors.New("invalid lifecycle phase")
	// ErrNotControlling indicates a request delivered before clients were
	// claimed.
	ErrNotControlling = errors.New("clients not claimed")
)

// Phase is a lifecycle state.
type Phase int32

const (
	PhaseNew Phase = iota
	PhaseInstalling
	PhaseInstalled
	PhaseActivating
	PhaseActivated
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseInstalling:
		return "installing"
	case PhaseInstalled:
		return "installed"
	case PhaseActivating:
		return "activating"
	case PhaseActivated:
		return "activated"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Options are the lifecycle and routing options of one runtime version.
type Options struct {
	// Version tags the cache tier this runtime installs.
	Version string
	// Cache lists the paths fetched into the tier at install time.
	Cache []string
	// Debug turns on the router's per-request log line. It never turns it
	// off.
	Debug bool
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Options Options
	Router  *Router
	Caches  *cachetier.Storage
	Fetcher cachetier.Fetcher
	Logger  *log.Logger
}

// Manager owns the install → activate → intercept transitions.
type Manager struct {
	version  string
	manifest []string
	router   *Router
	caches   *cachetier.Storage
	fetcher  cachetier.Fetcher
	logger   *log.Logger

	transition  sync.Mutex
	phase       atomic.Int32
	activeTag   atomic.Pointer[string]
	controlling atomic.Bool

	observersMu sync.Mutex
	observers   []func(Phase)
}

// NewManager validates cfg and returns a manager in PhaseNew.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}
	if cfg.Caches == nil {
		return nil, errors.New("cache storage is required")
	}
	version := strings.TrimSpace(cfg.Options.Version)
	if version == "" {
		version = DefaultVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Options.Debug {
		cfg.Router.SetDebug(true)
	}
	return &Manager{
		version:  version,
		manifest: slices.Clone(cfg.Options.Cache),
		router:   cfg.Router,
		caches:   cfg.Caches,
		fetcher:  cfg.Fetcher,
		logger:   logger,
	}, nil
}

// Version returns the version this manager installs.
func (m *Manager) Version() string {
	return m.version
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	return Phase(m.phase.Load())
}

// ActiveVersion returns the active cache tag, or "" before activation.
func (m *Manager) ActiveVersion() string {
	if tag := m.activeTag.Load(); tag != nil {
		return *tag
	}
	return ""
}

// Controlling reports whether clients have been claimed.
func (m *Manager) Controlling() bool {
	return m.controlling.Load()
}

// OnPhase registers fn to observe every phase change.
func (m *Manager) OnPhase(fn func(Phase)) {
	if fn == nil {
		return
	}
	m.observersMu.Lock()
	m.observers = append(m.observers, fn)
	m.observersMu.Unlock()
}

func (m *Manager) setPhase(p Phase) {
	m.phase.Store(int32(p))
	m.observersMu.Lock()
	observers := slices.Clone(m.observers)
	m.observersMu.Unlock()
	for _, fn := range observers {
		fn(p)
	}
}

// Install fetches the manifest into the cache tier tagged with the version.
// Any failed entry aborts the install with nothing stored.
func (m *Manager) Install(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()
	if p := m.Phase(); p != PhaseNew {
		return fmt.Errorf("%w: install from %s", ErrPhase, p)
	}

	m.logger.Printf("%s installing...", m.version)
	m.setPhase(PhaseInstalling)
	if err := m.caches.Tier(m.version).AddAll(ctx, m.fetcher, m.manifest); err != nil {
		m.setPhase(PhaseNew)
		return fmt.Errorf("%w: version %s: %w", ErrInstall, m.version, err)
	}
	m.setPhase(PhaseInstalled)
	return nil
}

// Activate deletes every cache tier except the current version and claims
// clients, returning once both have completed.
func (m *Manager) Activate(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()
	if p := m.Phase(); p != PhaseInstalled {
		return fmt.Errorf("%w: activate from %s", ErrPhase, p)
	}

	m.setPhase(PhaseActivating)
	version := m.version
	m.activeTag.Store(&version)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return m.cleanup(groupCtx)
	})
	group.Go(func() error {
		return m.claim(groupCtx)
	})
	if err := group.Wait(); err != nil {
		m.controlling.Store(false)
		m.activeTag.Store(nil)
		m.setPhase(PhaseInstalled)
		return fmt.Errorf("activate version %s: %w", m.version, err)
	}
	m.setPhase(PhaseActivated)
	m.logger.Printf("%s activated", m.version)
	return nil
}

// cleanup deletes every stale cache tier.
func (m *Manager) cleanup(ctx context.Context) error {
	tags, err := m.caches.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list cache tiers: %w", err)
	}
	for _, tag := range tags {
		if tag == m.version {
			continue
		}
		if _, err := m.caches.Delete(ctx, tag); err != nil {
			return fmt.Errorf("delete stale cache tier %s: %w", tag, err)
		}
		m.logger.Printf("deleted stale cache tier tag=%s", tag)
	}
	return nil
}

// claim takes control of clients that were served before activation.
func (m *Manager) claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.controlling.Store(true)
	return nil
}

// Intercept dispatches one request through the router.
func (m *Manager) Intercept(r *http.Request) (Response, error) {
	if !m.Controlling() {
		return Response{}, ErrNotControlling
	}
	return m.router.Dispatch(r)
}
