package volcast

import (
	"fmt"
	"log/slog"
	"sync"
)

// BackendState tracks which rendering backend the engine is using.
//
// The state machine is one-directional: an engine starts in
// StateUnselected, passes through StateDetecting exactly once, and settles
// on StateHardwareActive or StateSoftwareActive. A hardware failure after
// activation moves it to StateSoftwareActive for the rest of the session;
// there is no path back.
type BackendState int

const (
	// StateUnselected means no backend decision has been made yet.
	StateUnselected BackendState = iota
	// StateDetecting means a hardware probe is in progress.
	StateDetecting
	// StateHardwareActive means the hardware backend is serving renders.
	StateHardwareActive
	// StateSoftwareActive means the software ray caster is serving renders,
	// either because no hardware is available or because hardware failed.
	StateSoftwareActive
)

// String implements fmt.Stringer.
func (s BackendState) String() string {
	switch s {
	case StateUnselected:
		return "unselected"
	case StateDetecting:
		return "detecting"
	case StateHardwareActive:
		return "hardware"
	case StateSoftwareActive:
		return "software"
	default:
		return fmt.Sprintf("BackendState(%d)", int(s))
	}
}

// ProbeFunc reports whether a hardware backend can be used. A nil error
// means hardware is available. Probes run synchronously during selection.
type ProbeFunc func() error

// BackendFactory constructs a hardware backend. It is called at most once
// per engine: eagerly when preloading is enabled, otherwise on the first
// render after a successful probe.
type BackendFactory func() (Backend, error)

// backendSelector decides between hardware and software rendering and owns
// the permanent-fallback rule. It is an internal component of the engine;
// all calls are serialized by the engine's mutex.
type backendSelector struct {
	mu       sync.Mutex
	state    BackendState
	probe    ProbeFunc
	factory  BackendFactory
	hardware Backend
	software Backend
	preload  bool
	log      func() *slog.Logger
}

func newBackendSelector(software Backend, probe ProbeFunc, factory BackendFactory, preload bool) *backendSelector {
	return &backendSelector{
		state:    StateUnselected,
		probe:    probe,
		factory:  factory,
		software: software,
		preload:  preload,
		log:      Logger,
	}
}

// State returns the current backend state.
func (s *backendSelector) State() BackendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the backend that should serve the next render, running
// detection first if no decision has been made. Detection probes for
// hardware support; with preloading enabled the hardware backend is also
// constructed immediately, otherwise construction is deferred to the first
// render that needs it.
func (s *backendSelector) Active() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnselected:
		s.detectLocked()
	case StateDetecting:
		// Detection is synchronous, so this is unreachable from outside;
		// keep the software path as the answer if it ever shows up.
		return s.software
	}
	if s.state == StateHardwareActive {
		if s.hardware == nil {
			if !s.constructLocked() {
				return s.software
			}
		}
		return s.hardware
	}
	return s.software
}

// detectLocked runs the hardware probe and picks the initial state.
func (s *backendSelector) detectLocked() {
	s.state = StateDetecting
	if s.probe == nil || s.factory == nil {
		s.log().Debug("no hardware probe configured, using software rendering")
		s.state = StateSoftwareActive
		return
	}
	if err := s.probe(); err != nil {
		s.log().Info("hardware probe failed, using software rendering", "error", err)
		s.factory = nil
		s.state = StateSoftwareActive
		return
	}
	s.state = StateHardwareActive
	if s.preload {
		if !s.constructLocked() {
			return
		}
	}
	s.log().Info("hardware rendering selected", "preload", s.preload)
}

// constructLocked builds the hardware backend. A construction failure is
// permanent: the factory is dropped and the session falls back to software.
func (s *backendSelector) constructLocked() bool {
	if s.factory == nil {
		s.state = StateSoftwareActive
		return false
	}
	b, err := s.factory()
	s.factory = nil
	if err != nil || b == nil {
		s.log().Warn("hardware backend construction failed, falling back to software", "error", err)
		s.state = StateSoftwareActive
		return false
	}
	propagateLogger(b)
	s.hardware = b
	return true
}

// Fallback abandons hardware rendering for the rest of the session. The
// hardware backend, if constructed, is disposed and the factory dropped so
// no later call can resurrect it.
func (s *backendSelector) Fallback(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSoftwareActive {
		return
	}
	s.log().Warn("hardware rendering failed, switching to software for this session", "error", reason)
	if s.hardware != nil {
		s.hardware.Dispose()
		s.hardware = nil
	}
	s.factory = nil
	s.state = StateSoftwareActive
}

// Hardware returns the constructed hardware backend, or nil.
func (s *backendSelector) Hardware() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardware
}

// Dispose releases the hardware backend if one was constructed.
func (s *backendSelector) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hardware != nil {
		s.hardware.Dispose()
		s.hardware = nil
	}
	s.factory = nil
}
