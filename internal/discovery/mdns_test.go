package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildService(t *testing.T) {
	ip := net.IPv4(192, 168, 1, 20)
	service, err := buildService("studio", "board.local.", 8080, []net.IP{ip})
	require.NoError(t, err)

	assert.Equal(t, "studio", service.Instance)
	assert.Equal(t, ServiceType, service.Service)
	assert.Equal(t, "local.", service.Domain)
	assert.Equal(t, 8080, service.Port)
	assert.Equal(t, []net.IP{ip}, service.IPs)
	assert.Contains(t, service.TXT, "path=/ws")
}

func TestBuildServiceRejectsMissingPort(t *testing.T) {
	_, err := buildService("studio", "board.local.", 0, []net.IP{net.IPv4(10, 0, 0, 1)})
	assert.Error(t, err)
}

func TestFirstIPv4(t *testing.T) {
	assert.NotNil(t, firstIPv4().To4())
}
