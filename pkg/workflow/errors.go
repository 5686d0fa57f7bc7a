package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnprocessableEntity is returned when an action is requested while
	// another one holds the cluster
	ErrUnprocessableEntity = errors.New("unprocessable entity")

	// ErrUnsupportedDatastore is returned by Registry.Lookup for managers
	// without a cluster workflow
	ErrUnsupportedDatastore = errors.New("datastore does not support clustering")
)

// Validation failure kinds, matched with errors.Is
var (
	ErrClusterTooSmall     = errors.New("number of instances is not supported")
	ErrFlavorsNotEqual     = errors.New("the flavor for each instance in a cluster must be the same")
	ErrVolumeSizeRequired  = errors.New("a volume size is required for each instance in the cluster")
	ErrVolumeSizesNotEqual = errors.New("the volume size for each instance in a cluster must be the same")
	ErrVolumeNotSupported  = errors.New("volume support is not enabled")
	ErrSeedRequired        = errors.New("cluster requires at least one seed node")
	ErrInvalidRolesRatio   = errors.New("data to seed node ratio is below the configured minimum")
)

// ValidationError is returned when a cluster request is rejected before any
// side effect
type ValidationError struct {
	Kind   error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// ClusterActionError wraps any failure of a guarded cluster action
type ClusterActionError struct {
	Action    string
	Datastore string
	ClusterID string
	Err       error
}

func (e *ClusterActionError) Error() string {
	return fmt.Sprintf("error running cluster action %s for %s cluster %s: %v",
		e.Action, e.Datastore, e.ClusterID, e.Err)
}

func (e *ClusterActionError) Unwrap() error {
	return e.Err
}

// MembershipError is returned when at least one node does not see the
// expected peer set
type MembershipError struct {
	ClusterID string
	Statuses  map[string]string // Verification result by node id
}

func (e *MembershipError) Error() string {
	ids := make([]string, 0, len(e.Statuses))
	for id := range e.Statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s=%s", id, e.Statuses[id]))
	}
	return fmt.Sprintf("unable to configure cluster %s: one or more instances are not visible to other cluster nodes: %s",
		e.ClusterID, strings.Join(parts, ", "))
}

// PanicError carries a panic recovered from a guarded action
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
