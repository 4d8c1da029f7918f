package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/liangyou/appgate/internal/remote"
	"github.com/liangyou/appgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCheckWithLocalDocument(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "appgate.yaml", "host:\n  platform: ios\n  installed_version: 1.0.0\n")
	docPath := writeFile(t, dir, "doc.json", `{
		"min_supported_version": "1.0.0",
		"latest_version": "1.2.0",
		"store_url": "https://store.example.com",
		"ios": {"min_supported_version": "1.1.0", "critical_title": "Please update"}
	}`)

	pub, err := NewRuntime("test", io.Discard).Check(context.Background(), cfgPath, docPath)
	require.NoError(t, err)

	assert.Equal(t, models.StateCritical, pub.State)
	assert.Equal(t, models.PlatformIOS, pub.Installed.PlatformID)
	assert.Equal(t, "Please update", pub.Display.Title)
	assert.Equal(t, "file:"+docPath, pub.Origin)
}

func TestCheckMissingDocumentIsIdle(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "appgate.yaml", "host:\n  platform: web\n  installed_version: 1.0.0\n")

	pub, err := NewRuntime("test", io.Discard).Check(context.Background(), cfgPath, filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, pub.State)
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "appgate.yaml", "host:\n  platform: symbian\n")

	_, err := NewRuntime("test", io.Discard).Check(context.Background(), cfgPath, filepath.Join(dir, "doc.json"))
	assert.ErrorContains(t, err, "unsupported platform")
}

type errSource struct{ err error }

func (s errSource) Subscribe(_ context.Context, _ remote.SnapshotFunc, onError remote.ErrorFunc) (remote.Subscription, error) {
	go onError(s.err)
	return nopSub{}, nil
}

type nopSub struct{}

func (nopSub) Unsubscribe() error { return nil }

func TestFirstSnapshotReturnsTransportError(t *testing.T) {
	_, err := FirstSnapshot(context.Background(), errSource{err: errors.New("dial tcp: refused")})
	assert.ErrorContains(t, err, "refused")
}

func TestFirstSnapshotHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FirstSnapshot(ctx, blockingSource{})
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingSource struct{}

func (blockingSource) Subscribe(context.Context, remote.SnapshotFunc, remote.ErrorFunc) (remote.Subscription, error) {
	return nopSub{}, nil
}

func TestBuildSinks(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinks, promSink, closers, err := buildSinks(models.TelemetryConfig{Log: true, Prometheus: true}, reg, nil)
	require.NoError(t, err)
	assert.Len(t, sinks, 2)
	assert.NotNil(t, promSink)
	assert.Empty(t, closers)

	_, _, _, err = buildSinks(models.TelemetryConfig{Prometheus: true}, reg, nil)
	assert.Error(t, err, "duplicate registration")
}

func TestRegionOptions(t *testing.T) {
	assert.Nil(t, regionOptions(models.HTTPSourceConfig{}, nil))
	assert.Len(t, regionOptions(models.HTTPSourceConfig{Mirrors: map[string]string{"CN": "https://cn"}}, nil), 2)
}
