package domain

import (
	"fmt"
	"net"
)

// PolicyType names a backend selection policy in configuration
type PolicyType string

const (
	// FirstAvailablePolicyType picks the first backend not marked unavailable
	FirstAvailablePolicyType PolicyType = "first_available"
)

// SelectionPolicy chooses a backend from the live list. Implementations
// only read; the list is guarded by the pool.
type SelectionPolicy interface {
	// Select returns nil if no backend in the list can be chosen
	Select(backends []*Backend, client net.Addr) *Backend

	// Name returns the policy type for logs and configuration matching
	Name() PolicyType
}

// FirstAvailablePolicy returns the first backend in the live list that is
// not marked unavailable. Which backend is "first" changes as the pool is
// mutated.
type FirstAvailablePolicy struct{}

// Select implements SelectionPolicy
func (FirstAvailablePolicy) Select(backends []*Backend, _ net.Addr) *Backend {
	for _, backend := range backends {
		if backend.IsAvailable() {
			return backend
		}
	}
	return nil
}

// Name implements SelectionPolicy
func (FirstAvailablePolicy) Name() PolicyType {
	return FirstAvailablePolicyType
}

// NewSelectionPolicy creates the policy registered under the given type
func NewSelectionPolicy(policyType PolicyType) (SelectionPolicy, error) {
	switch policyType {
	case FirstAvailablePolicyType, "":
		return FirstAvailablePolicy{}, nil
	default:
		return nil, fmt.Errorf("unsupported selection policy: %s", policyType)
	}
}
