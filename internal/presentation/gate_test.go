package presentation

import (
	"context"
	"sync"
	"testing"

	"github.com/liangyou/appgate/internal/gate"
	"github.com/liangyou/appgate/internal/telemetry"
	"github.com/liangyou/appgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu     sync.Mutex
	opened []string
}

func (f *fakeHost) OpenExternalURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
}

type recordingSink struct {
	events []telemetry.Event
}

func (r *recordingSink) Emit(_ context.Context, e telemetry.Event) {
	r.events = append(r.events, e)
}

type fakePublisher struct {
	fns []func(models.Published)
}

func (f *fakePublisher) Subscribe(fn func(models.Published)) func() {
	f.fns = append(f.fns, fn)
	return func() { f.fns = nil }
}

func (f *fakePublisher) publish(p models.Published) {
	for _, fn := range f.fns {
		fn(p)
	}
}

func published(state models.GateState, seq uint64) models.Published {
	merged := models.MergedConfig{
		LatestVersion: "2.0.0",
		StoreURL:      "https://store.example.com/app",
		Changelog:     []string{"New things"},
	}
	return models.Published{
		Sequence: seq,
		State:    state,
		Config:   merged,
		Display:  gate.ResolveDisplay(state, merged),
	}
}

func TestGateStartsIdle(t *testing.T) {
	g := NewGate(&fakeHost{}, nil, nil)
	assert.Equal(t, models.StateIdle, g.View().State)
	assert.ErrorIs(t, g.OnDismiss(context.Background()), ErrActionNotAllowed)
	assert.ErrorIs(t, g.OnUpdateNow(context.Background()), ErrActionNotAllowed)
}

func TestDismissOptionalIsLocalAndNotPersisted(t *testing.T) {
	sink := &recordingSink{}
	g := NewGate(&fakeHost{}, sink, nil)
	pub := &fakePublisher{}
	g.Attach(pub)

	pub.publish(published(models.StateOptional, 1))
	require.Equal(t, models.StateOptional, g.View().State)

	require.NoError(t, g.OnDismiss(context.Background()))
	view := g.View()
	assert.Equal(t, models.StateIdle, view.State)
	assert.Equal(t, models.StateOptional, view.Evaluated)
	assert.True(t, view.Dismissed)
	assert.Empty(t, view.Display.Title)

	require.Len(t, sink.events, 1)
	assert.Equal(t, telemetry.ActionClickDismiss, sink.events[0].Action)
	assert.Equal(t, "2.0.0", sink.events[0].LabelValue())

	// 内容相同的下一次发布仍会重新显示提示
	pub.publish(published(models.StateOptional, 2))
	view = g.View()
	assert.Equal(t, models.StateOptional, view.State)
	assert.False(t, view.Dismissed)
}

func TestDismissNotAllowedForBlockingStates(t *testing.T) {
	for _, state := range []models.GateState{models.StateCritical, models.StateMaintenance} {
		g := NewGate(&fakeHost{}, nil, nil)
		g.Apply(published(state, 1))
		assert.ErrorIs(t, g.OnDismiss(context.Background()), ErrActionNotAllowed, state)
		assert.Equal(t, state, g.View().State)
	}
}

func TestUpdateNowOpensStoreAndEmits(t *testing.T) {
	host := &fakeHost{}
	sink := &recordingSink{}
	g := NewGate(host, sink, nil)
	g.Apply(published(models.StateCritical, 1))

	require.NoError(t, g.OnUpdateNow(context.Background()))

	assert.Equal(t, []string{"https://store.example.com/app"}, host.opened)
	require.Len(t, sink.events, 1)
	assert.Equal(t, telemetry.ActionClickUpdateNow, sink.events[0].Action)
	assert.Equal(t, models.StateCritical, sink.events[0].State)
}

func TestUpdateNowNotAllowedInMaintenanceOrAfterDismiss(t *testing.T) {
	g := NewGate(&fakeHost{}, nil, nil)
	g.Apply(published(models.StateMaintenance, 1))
	assert.ErrorIs(t, g.OnUpdateNow(context.Background()), ErrActionNotAllowed)

	g.Apply(published(models.StateOptional, 2))
	require.NoError(t, g.OnDismiss(context.Background()))
	assert.ErrorIs(t, g.OnUpdateNow(context.Background()), ErrActionNotAllowed)
}

func TestUpdateNowWithoutStoreURL(t *testing.T) {
	host := &fakeHost{}
	g := NewGate(host, nil, nil)
	pub := published(models.StateOptional, 1)
	pub.Display.StoreURL = ""
	g.Apply(pub)

	require.NoError(t, g.OnUpdateNow(context.Background()))
	assert.Empty(t, host.opened)
}

func TestWatchReceivesViews(t *testing.T) {
	g := NewGate(&fakeHost{}, nil, nil)
	var views []View
	cancel := g.Watch(func(v View) { views = append(views, v) })

	g.Apply(published(models.StateOptional, 1))
	require.NoError(t, g.OnDismiss(context.Background()))
	cancel()
	g.Apply(published(models.StateOptional, 2))

	require.Len(t, views, 2)
	assert.Equal(t, models.StateOptional, views[0].State)
	assert.Equal(t, models.StateIdle, views[1].State)
}
