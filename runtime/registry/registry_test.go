package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(types.AgentCard{
		Name:         "weather_agent",
		URL:          "http://weather.internal:9001",
		Capabilities: []string{"weather", "forecast"},
	}))

	card, ok := r.ByName("weather_agent")
	require.True(t, ok)
	require.Equal(t, "http://weather.internal:9001", card.URL)

	// Lookup is case-sensitive.
	_, ok = r.ByName("Weather_Agent")
	require.False(t, ok)

	require.ErrorIs(t, r.Register(types.AgentCard{URL: "http://x"}), ErrMissingName)
}

func TestUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(types.AgentCard{Name: "a", URL: "http://a"}))
	require.True(t, r.Unregister("a"))
	require.False(t, r.Unregister("a"))
	require.Equal(t, 0, r.Len())
}

func TestLoadFromEnv(t *testing.T) {
	r := New()
	n := r.LoadFromEnv([]string{
		"AGENT_WEATHER_URL=http://weather.internal:9001",
		"AGENT_WEATHER_CAPABILITIES=weather, forecast",
		"AGENT_INSURANCE_URL=http://insurance.internal:9002",
		"AGENT_EMPTY_URL=",
		"PATH=/usr/bin",
		"AGENT_ORPHAN_CAPABILITIES=none",
	})
	require.Equal(t, 2, n)

	// Environment-derived names are lowercased.
	card, ok := r.ByName("weather")
	require.True(t, ok)
	require.Equal(t, []string{"weather", "forecast"}, card.Capabilities)

	_, ok = r.ByName("WEATHER")
	require.False(t, ok)

	card, ok = r.ByName("insurance")
	require.True(t, ok)
	require.Nil(t, card.Capabilities)

	_, ok = r.ByName("orphan")
	require.False(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"agents": [
			{"name": "analytics_agent", "url": "http://analytics:9003", "capabilities": ["analytics"]},
			{"name": "security_agent", "url": "http://security:9004", "version": "1.2.0"},
			{"url": "http://nameless"}
		]
	}`), 0o644))

	r := New()
	n, err := r.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"analytics_agent", "security_agent"}, r.Names())
}

func TestLoadFromFileErrors(t *testing.T) {
	r := New()
	_, err := r.LoadFromFile("/does/not/exist.json")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = r.LoadFromFile(path)
	require.ErrorContains(t, err, "parse")
}

func TestLoadConfigMissingDefaultIsNotError(t *testing.T) {
	r := New()
	n, err := r.LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCapabilityLookups(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(types.AgentCard{Name: "b", URL: "http://b", Capabilities: []string{"reports", "analytics"}}))
	require.NoError(t, r.Register(types.AgentCard{Name: "a", URL: "http://a", Capabilities: []string{"analytics"}}))
	require.NoError(t, r.Register(types.AgentCard{Name: "c", URL: "http://c"}))

	first, ok := r.FirstByCapability("analytics")
	require.True(t, ok)
	require.Equal(t, "a", first.Name)

	all := r.AllByCapability("analytics")
	require.Len(t, all, 2)

	_, ok = r.FirstByCapability("payments")
	require.False(t, ok)

	require.Equal(t, []string{"analytics", "reports"}, r.Capabilities())
}

type recordingMirror struct {
	registered   []string
	unregistered []string
}

func (m *recordingMirror) Registered(card types.AgentCard) {
	m.registered = append(m.registered, card.Name)
}

func (m *recordingMirror) Unregistered(name string) {
	m.unregistered = append(m.unregistered, name)
}

func TestMirrorNotifications(t *testing.T) {
	mirror := &recordingMirror{}
	r := New(WithMirror(mirror))

	require.NoError(t, r.Register(types.AgentCard{Name: "a", URL: "http://a"}))
	require.True(t, r.Unregister("a"))

	// Remote applications do not republish.
	r.ApplyRemote(types.AgentCard{Name: "b", URL: "http://b"})
	r.RemoveRemote("b")

	require.Equal(t, []string{"a"}, mirror.registered)
	require.Equal(t, []string{"a"}, mirror.unregistered)
}
