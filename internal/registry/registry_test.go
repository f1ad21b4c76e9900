package registry

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-bridge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func localService(name string) config.ServiceInfo {
	return config.ServiceInfo{
		Name:  name,
		Type:  config.ServiceLocal,
		Local: &config.LocalService{Command: "node"},
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		info config.ServiceInfo
		ok   bool
	}{
		{
			name: "valid local",
			info: localService("files"),
			ok:   true,
		},
		{
			name: "valid remote",
			info: config.ServiceInfo{
				Name:   "api",
				Type:   config.ServiceRemote,
				Remote: &config.RemoteService{Endpoint: "http://localhost:9000/mcp"},
			},
			ok: true,
		},
		{
			name: "missing name",
			info: config.ServiceInfo{Type: config.ServiceLocal, Local: &config.LocalService{Command: "node"}},
			ok:   false,
		},
		{
			name: "local without command",
			info: config.ServiceInfo{Name: "x", Type: config.ServiceLocal, Local: &config.LocalService{}},
			ok:   false,
		},
		{
			name: "remote without endpoint",
			info: config.ServiceInfo{Name: "x", Type: config.ServiceRemote, Remote: &config.RemoteService{}},
			ok:   false,
		},
		{
			name: "unknown type",
			info: config.ServiceInfo{Name: "x", Type: "weird"},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(testLogger())
			assert.Equal(t, tt.ok, reg.Register(tt.info))
		})
	}
}

func TestRegisterStampsCreated(t *testing.T) {
	reg := New(testLogger())
	require.True(t, reg.Register(localService("files")))

	info, ok := reg.Get("files")
	require.True(t, ok)
	assert.NotZero(t, info.Created)
	assert.Zero(t, info.LastUsed)
}

func TestRegisterReplacesDuplicate(t *testing.T) {
	reg := New(testLogger())
	require.True(t, reg.Register(localService("files")))

	replacement := localService("files")
	replacement.Local.Command = "python"
	require.True(t, reg.Register(replacement))

	info, ok := reg.Get("files")
	require.True(t, ok)
	assert.Equal(t, "python", info.Local.Command)
	assert.Equal(t, 1, reg.Len())
}

func TestUnregister(t *testing.T) {
	reg := New(testLogger())
	require.True(t, reg.Register(localService("files")))

	assert.True(t, reg.Unregister("files"))
	assert.False(t, reg.Unregister("files"))
	_, ok := reg.Get("files")
	assert.False(t, ok)
}

func TestListSorted(t *testing.T) {
	reg := New(testLogger())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.True(t, reg.Register(localService(name)))
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestTouch(t *testing.T) {
	reg := New(testLogger())
	require.True(t, reg.Register(localService("files")))

	reg.Touch("files")
	info, _ := reg.Get("files")
	assert.NotZero(t, info.LastUsed)

	// touching an unknown service is a no-op
	reg.Touch("ghost")
}

func TestPutPreservesStamps(t *testing.T) {
	reg := New(testLogger())
	require.True(t, reg.Register(localService("files")))
	info, _ := reg.Get("files")
	reg.Touch("files")
	touched, _ := reg.Get("files")

	require.True(t, reg.Unregister("files"))
	reg.Put(touched)

	restored, ok := reg.Get("files")
	require.True(t, ok)
	assert.Equal(t, info.Created, restored.Created)
	assert.Equal(t, touched.LastUsed, restored.LastUsed)
}

func TestReset(t *testing.T) {
	reg := New(testLogger())
	require.True(t, reg.Register(localService("a")))
	require.True(t, reg.Register(localService("b")))

	reg.Reset()
	assert.Zero(t, reg.Len())
}
