package session

import (
	"sync"
	"time"
)

// ConnState represents the current state of the device connection
type ConnState int

const (
	StateIdle ConnState = iota
	StateOpening
	StateOpen
	StateResetting
	StateError
	StateClosed
)

// String returns the string representation of the state
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateResetting:
		return "RESETTING"
	case StateError:
		return "ERROR"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StatusInfo contains detailed status information for broadcasting
type StatusInfo struct {
	State       string    `json:"state"`
	Message     string    `json:"message"`
	Target      string    `json:"target,omitempty"`
	Baud        int       `json:"baud,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	LastError   string    `json:"last_error,omitempty"`
	IsConnected bool      `json:"is_connected"`
}

// StateChangeCallback is called when state changes
type StateChangeCallback func(info StatusInfo)

// StateMachine tracks the connection state with thread-safety
type StateMachine struct {
	mu sync.RWMutex

	currentState ConnState
	stateStarted time.Time
	lastError    string
	target       string
	baud         int

	onStateChange StateChangeCallback
}

// NewStateMachine creates a new state machine
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState: StateIdle,
		stateStarted: time.Now(),
	}
}

// SetCallback sets the state change callback
func (sm *StateMachine) SetCallback(cb StateChangeCallback) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = cb
}

// GetState returns the current state
func (sm *StateMachine) GetState() ConnState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// GetStatusInfo returns the current status information
func (sm *StateMachine) GetStatusInfo() StatusInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.getStatusInfoLocked()
}

func (sm *StateMachine) getStatusInfoLocked() StatusInfo {
	info := StatusInfo{
		State:       sm.currentState.String(),
		Target:      sm.target,
		Baud:        sm.baud,
		LastError:   sm.lastError,
		IsConnected: sm.currentState == StateOpen || sm.currentState == StateResetting,
		StartedAt:   sm.stateStarted,
		ElapsedMs:   time.Since(sm.stateStarted).Milliseconds(),
	}

	switch sm.currentState {
	case StateIdle:
		info.Message = "No device attached"
	case StateOpening:
		info.Message = "Opening " + sm.target + "..."
	case StateOpen:
		info.Message = "Connected to " + sm.target
	case StateResetting:
		info.Message = "Resetting device..."
	case StateError:
		info.Message = "Connection failed: " + sm.lastError
	case StateClosed:
		info.Message = "Connection closed"
	}

	return info
}

// SetTarget records the device the state refers to
func (sm *StateMachine) SetTarget(target string, baud int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.target = target
	sm.baud = baud
}

// TransitionTo changes to a new state
func (sm *StateMachine) TransitionTo(newState ConnState) {
	sm.mu.Lock()
	sm.currentState = newState
	sm.stateStarted = time.Now()
	if newState != StateError {
		sm.lastError = ""
	}
	cb, info := sm.onStateChange, sm.getStatusInfoLocked()
	sm.mu.Unlock()

	if cb != nil {
		cb(info)
	}
}

// TransitionToError transitions to error state with a message
func (sm *StateMachine) TransitionToError(err string) {
	sm.mu.Lock()
	sm.currentState = StateError
	sm.stateStarted = time.Now()
	sm.lastError = err
	cb, info := sm.onStateChange, sm.getStatusInfoLocked()
	sm.mu.Unlock()

	if cb != nil {
		cb(info)
	}
}
