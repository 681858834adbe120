package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/parkspot/tracker/internal/logging"
)

// ProbeFunc returns nil when the network (in practice the geocoder) is
// reachable.
type ProbeFunc func(ctx context.Context) error

// Listener is called with the new status on every change.
type Listener func(online bool)

// Dependencies holds all dependencies for the connectivity monitor
type Dependencies struct {
	Probe      ProbeFunc
	Interval   time.Duration
	LogManager *logging.SlogManager
}

// Service tracks online/offline status and reports changes. The status
// starts offline, so the first successful probe counts as coming online.
type Service struct {
	deps Dependencies

	// deliver serialises a change with its delivery, so listeners see
	// changes in the order they were made. Listeners must not call Report.
	deliver   sync.Mutex
	mu        sync.RWMutex
	online    bool
	listeners []Listener
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewService creates a new connectivity monitor
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// Online reports the last known status.
func (s *Service) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Subscribe registers a listener for status changes.
func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Report sets the status. Listeners only hear about actual changes.
func (s *Service) Report(online bool) bool {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if s.deps.LogManager != nil {
		s.deps.LogManager.Logger().Info("Connectivity changed", "online", online)
	}
	for _, l := range listeners {
		l(online)
	}
	return true
}

// Check runs the probe once and reports the result.
func (s *Service) Check(ctx context.Context) bool {
	if s.deps.Probe == nil {
		return s.Online()
	}
	err := s.deps.Probe(ctx)
	if err != nil && s.deps.LogManager != nil {
		s.deps.LogManager.Logger().Debug("Connectivity probe failed", "error", err)
	}
	s.Report(err == nil)
	return err == nil
}

// IsRunning returns whether the probe loop is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start runs the probe loop until Stop or ctx is done. Without a probe the
// status only changes through Report.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.deps.Probe == nil {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		s.probeOnce(ctx)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.probeOnce(ctx)
			}
		}
	}()
}

func (s *Service) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, s.deps.Interval)
	defer cancel()
	s.Check(probeCtx)
}

// Stop stops the probe loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.isRunning {
		close(s.stopChan)
		s.isRunning = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}
