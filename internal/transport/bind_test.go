package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestParseBindAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		network Network
		address string
		wantErr bool
	}{
		{input: "tcp://0.0.0.0:80", network: NetworkTCP, address: "0.0.0.0:80"},
		{input: "127.0.0.1:9000", network: NetworkTCP, address: "127.0.0.1:9000"},
		{input: "tcp://[::1]:8000", network: NetworkTCP, address: "[::1]:8000"},
		{input: "unix:///run/headmaster.sock", network: NetworkUnix, address: "/run/headmaster.sock"},
		{input: "fd://3", network: NetworkUnixFD, address: "3"},
		{input: "", wantErr: true},
		{input: "tcp://no-port", wantErr: true},
		{input: "unix://", wantErr: true},
		{input: "fd://three", wantErr: true},
		{input: "udp://0.0.0.0:53", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			addr, err := ParseBindAddress(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.network, addr.Network())
			assert.Equal(t, tt.address, addr.Address())

			reparsed, err := ParseBindAddress(addr.String())
			require.NoError(t, err)
			assert.Equal(t, addr, reparsed)
		})
	}
}

func TestDefaultAdminAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		primary  BindAddress
		expected string
	}{
		{"port 80 maps to 8000", TCPAddress("0.0.0.0:80"), "tcp://0.0.0.0:8000"},
		{"port 8000 maps to 8001", TCPAddress("10.1.2.3:8000"), "tcp://10.1.2.3:8001"},
		{"port 8001 maps to 8000", TCPAddress("10.1.2.3:8001"), "tcp://10.1.2.3:8000"},
		{"unix falls back to all interfaces", UnixAddress("/tmp/hm.sock"), "tcp://0.0.0.0:8000"},
		{"fd falls back to all interfaces", UnixFDAddress(3), "tcp://0.0.0.0:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.primary.DefaultAdminAddress().String())
		})
	}
}

func TestBindAddressPort(t *testing.T) {
	t.Parallel()

	port, ok := TCPAddress("127.0.0.1:8080").Port()
	assert.True(t, ok)
	assert.Equal(t, 8080, port)

	_, ok = UnixAddress("/tmp/x.sock").Port()
	assert.False(t, ok)
}

func TestBindAddressYAML(t *testing.T) {
	t.Parallel()

	var doc struct {
		Listen BindAddress `yaml:"listen"`
		Admin  BindAddress `yaml:"admin"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("listen: unix:///tmp/hm.sock\nadmin: \"\"\n"), &doc))

	assert.Equal(t, UnixAddress("/tmp/hm.sock"), doc.Listen)
	assert.True(t, doc.Admin.IsZero())

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "unix:///tmp/hm.sock")

	assert.Error(t, yaml.Unmarshal([]byte("listen: ftp://x\n"), &doc))
}
