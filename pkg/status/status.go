// Package status holds the setup status document shared between the setup
// process and anything waiting on it.
package status

import (
	"time"
)

// State is the lifecycle value of a SetupStatus.
type State string

const (
	StateRunning State = "running"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// ServiceInstance is a provisioned dependency confirmed reachable.
type ServiceInstance struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Port int    `json:"port"`
}

// DevServer describes the development server started by setup.
type DevServer struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

// SetupStatus is the JSON document written to the status file.
type SetupStatus struct {
	Status    State             `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Step      string            `json:"step,omitempty"`
	Services  []ServiceInstance `json:"services"`
	DevServer *DevServer        `json:"devServer,omitempty"`
	Env       map[string]string `json:"env"`
	Error     string            `json:"error,omitempty"`
}

// Service returns the named service, if present.
func (s *SetupStatus) Service(name string) (ServiceInstance, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceInstance{}, false
}
