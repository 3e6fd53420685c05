package sim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Setup describes a simulation in YAML.
//
//	name: pingpong
//	capacity: 4
//	until: 100
//	poll_interval: 50ms
//	network:
//	  kind: uniform
//	  params: {min: 1, max: 3, seed: 7}
//	agents:
//	  - id: server
//	    behavior: echo
//	  - id: client
//	    behavior: requester
//	    replicas: 3
//	    params: {target: server, count: 5}
type Setup struct {
	Name         string       `yaml:"name"`
	Capacity     int          `yaml:"capacity"`
	Until        int64        `yaml:"until"`
	PollInterval string       `yaml:"poll_interval"`
	Network      NetworkSetup `yaml:"network"`
	Agents       []AgentSetup `yaml:"agents"`
}

// NetworkSetup selects a network model by registry key.
type NetworkSetup struct {
	Kind   string `yaml:"kind"`
	Params Params `yaml:"params"`
}

// AgentSetup declares one agent, or Replicas agents named "<id>-<n>".
type AgentSetup struct {
	ID       string `yaml:"id"`
	Behavior string `yaml:"behavior"`
	Replicas int    `yaml:"replicas"`
	Params   Params `yaml:"params"`
}

// ParseSetup decodes and validates a YAML setup.
func ParseSetup(data []byte) (*Setup, error) {
	var s Setup
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse setup: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSetup reads and parses the setup file at path.
func LoadSetup(path string) (*Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read setup: %w", err)
	}
	return ParseSetup(data)
}

// Validate checks the structural rules that do not depend on registries.
func (s *Setup) Validate() error {
	var errs []error
	if s.Capacity < 0 || s.Capacity > 10000 {
		errs = append(errs, fmt.Errorf("capacity %d out of range [1, 10000]", s.Capacity))
	}
	if s.Until < 0 {
		errs = append(errs, fmt.Errorf("until %d must not be negative", s.Until))
	}
	if s.PollInterval != "" {
		if d, err := time.ParseDuration(s.PollInterval); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("poll_interval %q is not a positive duration", s.PollInterval))
		}
	}
	seen := make(map[string]bool)
	for i, a := range s.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
		}
		if a.Behavior == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: behavior is required", i))
		}
		if a.Replicas < 0 {
			errs = append(errs, fmt.Errorf("agents[%d]: replicas %d must not be negative", i, a.Replicas))
		}
		for _, id := range a.ids() {
			if seen[id] {
				errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %q", i, id))
			}
			seen[id] = true
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid setup: %w", errors.Join(errs...))
	}
	return nil
}

// Horizon returns the run horizon, Forever when unset.
func (s *Setup) Horizon() Time {
	if s.Until == 0 {
		return Forever
	}
	return Time(s.Until)
}

func (a AgentSetup) ids() []string {
	if a.Replicas <= 1 {
		return []string{a.ID}
	}
	ids := make([]string, a.Replicas)
	for i := range a.Replicas {
		ids[i] = fmt.Sprintf("%s-%d", a.ID, i+1)
	}
	return ids
}

// Build constructs the simulation a setup describes. Unknown behavior or
// network keys fail with *ConfigurationError before any worker starts.
// optFns are applied after the setup's own values.
func Build(setup *Setup, behaviors *Registry[Behavior], networks *Registry[Network], optFns ...func(o *Options)) (*Simulation, error) {
	if err := setup.Validate(); err != nil {
		return nil, err
	}

	var network Network
	if setup.Network.Kind != "" {
		n, err := networks.Build(setup.Network.Kind, setup.Network.Params)
		if err != nil {
			return nil, err
		}
		network = n
	}

	type agentSpec struct {
		id       string
		behavior Behavior
	}
	var agents []agentSpec
	for _, a := range setup.Agents {
		for _, id := range a.ids() {
			b, err := behaviors.Build(a.Behavior, a.Params)
			if err != nil {
				return nil, err
			}
			agents = append(agents, agentSpec{id: id, behavior: b})
		}
	}

	fns := []func(o *Options){func(o *Options) {
		if setup.Name != "" {
			o.Name = setup.Name
		}
		if setup.Capacity > 0 {
			o.Capacity = setup.Capacity
		}
		if setup.PollInterval != "" {
			// Validated above.
			o.PollInterval, _ = time.ParseDuration(setup.PollInterval)
		}
		if network != nil {
			o.Network = network
		}
	}}
	s, err := New(append(fns, optFns...)...)
	if err != nil {
		return nil, err
	}

	for _, built := range agents {
		if _, err := s.AddAgent(built.id, built.behavior); err != nil {
			s.Shutdown(time.Second)
			return nil, err
		}
	}
	return s, nil
}
