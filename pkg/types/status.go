package types

import (
	"fmt"
	"sync"
)

// ServiceStatus is the datastore status code reported by a node's agent
type ServiceStatus int

const (
	StatusRunning            ServiceStatus = 0x01
	StatusBlocked            ServiceStatus = 0x02
	StatusPaused             ServiceStatus = 0x03
	StatusShutdown           ServiceStatus = 0x04
	StatusDeleted            ServiceStatus = 0x05
	StatusCrashed            ServiceStatus = 0x06
	StatusFailed             ServiceStatus = 0x08
	StatusBuilding           ServiceStatus = 0x09
	StatusUnknown            ServiceStatus = 0x16
	StatusNew                ServiceStatus = 0x17
	StatusFailedTimeoutAgent ServiceStatus = 0x18
	StatusBuildPending       ServiceStatus = 0x19
)

// IsFailed reports whether the status is terminal for a build
func (s ServiceStatus) IsFailed() bool {
	return s == StatusFailed || s == StatusFailedTimeoutAgent
}

// StatusInfo describes a status code
type StatusInfo struct {
	Code        ServiceStatus
	Description string // Stored alongside the code
	APIStatus   string // Coarser status shown to API users
}

// StatusTable maps status codes to their metadata. It has no mutators.
type StatusTable struct {
	byCode map[ServiceStatus]StatusInfo
}

func newStatusTable(infos ...StatusInfo) *StatusTable {
	t := &StatusTable{byCode: make(map[ServiceStatus]StatusInfo, len(infos))}
	for _, info := range infos {
		t.byCode[info.Code] = info
	}
	return t
}

var (
	statusTable     *StatusTable
	statusTableOnce sync.Once
)

// ServiceStatuses returns the process-wide status table
func ServiceStatuses() *StatusTable {
	statusTableOnce.Do(func() {
		statusTable = newStatusTable(
			StatusInfo{StatusRunning, "running", "ACTIVE"},
			StatusInfo{StatusBlocked, "blocked", "BLOCKED"},
			StatusInfo{StatusPaused, "paused", "SHUTDOWN"},
			StatusInfo{StatusShutdown, "shutdown", "SHUTDOWN"},
			StatusInfo{StatusDeleted, "deleted", "DELETED"},
			StatusInfo{StatusCrashed, "crashed", "SHUTDOWN"},
			StatusInfo{StatusFailed, "failed to spawn", "FAILED"},
			StatusInfo{StatusBuilding, "building", "BUILD"},
			StatusInfo{StatusUnknown, "unknown", "ERROR"},
			StatusInfo{StatusNew, "new", "NEW"},
			StatusInfo{StatusFailedTimeoutAgent, "guestagent error", "ERROR"},
			StatusInfo{StatusBuildPending, "build pending", "BUILD"},
		)
	})
	return statusTable
}

// Lookup returns the metadata for a code
func (t *StatusTable) Lookup(code ServiceStatus) (StatusInfo, error) {
	info, ok := t.byCode[code]
	if !ok {
		return StatusInfo{}, fmt.Errorf("status code %#x is not a valid service status", int(code))
	}
	return info, nil
}

// IsValid reports whether the code is known
func (t *StatusTable) IsValid(code ServiceStatus) bool {
	_, ok := t.byCode[code]
	return ok
}

// Record builds a status record for a node, filling the description from the table
func (t *StatusTable) Record(nodeID string, code ServiceStatus) (*ServiceStatusRecord, error) {
	info, err := t.Lookup(code)
	if err != nil {
		return nil, err
	}
	return &ServiceStatusRecord{
		NodeID:      nodeID,
		Status:      info.Code,
		Description: info.Description,
	}, nil
}

// String returns the description of a known code
func (s ServiceStatus) String() string {
	info, err := ServiceStatuses().Lookup(s)
	if err != nil {
		return fmt.Sprintf("status(%#x)", int(s))
	}
	return info.Description
}
