package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTableLookup(t *testing.T) {
	table := ServiceStatuses()

	tests := []struct {
		code      ServiceStatus
		desc      string
		apiStatus string
	}{
		{StatusRunning, "running", "ACTIVE"},
		{StatusPaused, "paused", "SHUTDOWN"},
		{StatusCrashed, "crashed", "SHUTDOWN"},
		{StatusFailed, "failed to spawn", "FAILED"},
		{StatusFailedTimeoutAgent, "guestagent error", "ERROR"},
		{StatusUnknown, "unknown", "ERROR"},
		{StatusBuildPending, "build pending", "BUILD"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			info, err := table.Lookup(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.desc, info.Description)
			assert.Equal(t, tt.apiStatus, info.APIStatus)
		})
	}
}

func TestStatusTableUnknownCode(t *testing.T) {
	table := ServiceStatuses()

	_, err := table.Lookup(ServiceStatus(0x7f))
	assert.Error(t, err)
	assert.False(t, table.IsValid(ServiceStatus(0x7f)))
}

func TestStatusTableIsShared(t *testing.T) {
	assert.Same(t, ServiceStatuses(), ServiceStatuses())
}

func TestTaskPredicates(t *testing.T) {
	assert.False(t, ClusterTaskNone.IsActive())
	assert.True(t, ClusterTaskAddingSeedNode.IsActive())

	assert.True(t, InstanceTaskBuildingErrorServer.IsError())
	assert.False(t, InstanceTaskBuilding.IsError())

	assert.True(t, StatusFailedTimeoutAgent.IsFailed())
	assert.False(t, StatusRunning.IsFailed())
	assert.Equal(t, "running", StatusRunning.String())
}
