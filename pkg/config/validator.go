package config

import (
	"fmt"
	"strings"

	"github.com/meshmcp/meshmcp/pkg/router"
)

// Validator checks semantic correctness of a Config beyond what YAML
// syntax already guarantees: required fields, allowed enum values, and
// cross-field consistency (e.g. a backend declaring a transport whose
// matching spec block is missing).
type Validator struct{}

// NewValidator constructs a Validator. It carries no state; all Config
// instances are validated the same way.
func NewValidator() *Validator {
	return &Validator{}
}

var validAlgorithms = map[string]bool{
	string(router.RoundRobin):       true,
	string(router.LeastConnections): true,
	string(router.ConsistentHash):   true,
	string(router.Random):           true,
	string(router.WeightedRandom):   true,
}

var validTransports = map[string]bool{
	"stdio": true, "http": true, "sse": true, "streamable": true,
}

// Validate returns an error describing every problem found in cfg, joined
// with "; ", or nil if cfg is well-formed.
func (*Validator) Validate(cfg *Config) error {
	var errs []string

	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Name == "" {
		errs = append(errs, "name is required")
	}
	if len(cfg.Backends) == 0 {
		errs = append(errs, "at least one backend is required")
	}
	if cfg.Router.Algorithm != "" && !validAlgorithms[cfg.Router.Algorithm] {
		errs = append(errs, fmt.Sprintf("router.algorithm %q is not one of %s",
			cfg.Router.Algorithm, algorithmList()))
	}

	seen := make(map[string]bool, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if err := validateBackend(i, &b); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if seen[b.ID] {
			errs = append(errs, fmt.Sprintf("backends[%d]: duplicate id %q", i, b.ID))
		}
		seen[b.ID] = true
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

func validateBackend(i int, b *BackendConfig) error {
	prefix := fmt.Sprintf("backends[%d]", i)
	if b.ID == "" {
		return fmt.Errorf("%s.id is required", prefix)
	}
	if b.Transport == "" {
		return fmt.Errorf("%s.transport is required", prefix)
	}
	if !validTransports[b.Transport] {
		return fmt.Errorf("%s.transport %q must be one of stdio, http, sse, streamable", prefix, b.Transport)
	}

	switch b.Transport {
	case "stdio":
		if b.Stdio == nil || b.Stdio.Command == "" {
			return fmt.Errorf("%s.stdio.command is required for transport=stdio", prefix)
		}
	case "http":
		if b.HTTP == nil || b.HTTP.URL == "" {
			return fmt.Errorf("%s.http.url is required for transport=http", prefix)
		}
	case "sse":
		if b.SSE == nil || b.SSE.URL == "" {
			return fmt.Errorf("%s.sse.url is required for transport=sse", prefix)
		}
	case "streamable":
		if b.Streamable == nil || b.Streamable.URL == "" {
			return fmt.Errorf("%s.streamable.url is required for transport=streamable", prefix)
		}
	}

	if b.Weight < 0 {
		return fmt.Errorf("%s.weight must be >= 0", prefix)
	}
	return nil
}

func algorithmList() string {
	return "round_robin, least_connections, consistent_hash, random, weighted_random"
}
