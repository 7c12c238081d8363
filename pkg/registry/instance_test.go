package registry

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
)

func TestNewServiceInstance(t *testing.T) {
	meta := map[string]string{"zone": "a"}
	inst, err := NewServiceInstance(InstanceOptions{
		ServiceKey:  "  billing ",
		InternalURL: "http://billing:8080",
		Metadata:    meta,
	})
	require.NoError(t, err)

	assert.Equal(t, "billing", inst.ServiceKey())
	assert.Equal(t, "/health", inst.HealthCheckPath())
	assert.NotEmpty(t, inst.ContainerName())

	// 修改入参或返回值都不影响实例
	meta["zone"] = "b"
	inst.Metadata()["zone"] = "c"
	assert.Equal(t, "a", inst.Metadata()["zone"])
}

func TestNewServiceInstance_EmptyKey(t *testing.T) {
	_, err := NewServiceInstance(InstanceOptions{ServiceKey: "   "})
	require.Error(t, err)
	assert.True(t, autherr.IsConfiguration(err))
}

func TestDetectContainerName(t *testing.T) {
	t.Setenv("CONTAINER_NAME", "svc-a-7")
	assert.Equal(t, "svc-a-7", DetectContainerName())

	t.Setenv("CONTAINER_NAME", "")
	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		assert.Equal(t, hostname, DetectContainerName())
	}
}

func TestHeartbeatStatusString(t *testing.T) {
	assert.Equal(t, "ok", HeartbeatOK.String())
	assert.Equal(t, "instance_not_found", HeartbeatInstanceNotFound.String())
	assert.Equal(t, "failed", HeartbeatFailed.String())
	assert.Equal(t, "unknown", HeartbeatStatus(42).String())
}
