package gate

import (
	"testing"

	"github.com/liangyou/appgate/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestResolveDisplayUsesRemoteText(t *testing.T) {
	merged := models.MergedConfig{
		LatestVersion: "2.0.0",
		StoreURL:      "https://store.example.com",
		Critical:      models.Text{Title: "Please update", Message: "Old build"},
		Changelog:     []string{"Faster sync"},
	}

	d := ResolveDisplay(models.StateCritical, merged)

	assert.Equal(t, "Please update", d.Title)
	assert.Equal(t, "Old build", d.Message)
	assert.True(t, d.ShowChangelog)
	assert.Equal(t, []string{"Faster sync"}, d.Changelog)
	assert.Equal(t, "https://store.example.com", d.StoreURL)
	assert.Equal(t, "2.0.0", d.TargetVersion)
	assert.True(t, d.CanUpdate)
	assert.False(t, d.CanDismiss)
}

func TestResolveDisplayFallsBackToDefaults(t *testing.T) {
	d := ResolveDisplay(models.StateOptional, models.MergedConfig{Optional: models.Text{Message: "Custom"}})

	assert.Equal(t, DefaultOptionalTitle, d.Title)
	assert.Equal(t, "Custom", d.Message)
	assert.True(t, d.CanDismiss)
	assert.False(t, d.ShowChangelog, "empty changelog is not shown")
}

func TestResolveDisplayMaintenanceHidesChangelog(t *testing.T) {
	merged := models.MergedConfig{MaintenanceMode: true, Changelog: []string{"x"}, StoreURL: "https://store"}

	d := ResolveDisplay(models.StateMaintenance, merged)

	assert.Equal(t, DefaultMaintenanceTitle, d.Title)
	assert.Equal(t, DefaultMaintenanceMessage, d.Message)
	assert.False(t, d.ShowChangelog)
	assert.Empty(t, d.Changelog)
	assert.Empty(t, d.StoreURL)
	assert.False(t, d.CanUpdate)
	assert.False(t, d.CanDismiss)
}

func TestResolveDisplayIdleIsEmpty(t *testing.T) {
	d := ResolveDisplay(models.StateIdle, models.MergedConfig{Changelog: []string{"x"}})
	assert.Equal(t, models.Display{}, d)
}
