package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Route
	}{
		{"/", Dashboard},
		{"", Dashboard},
		{"/analyses", Analyses},
		{"/analyses/", Analyses},
		{"/analyses///", Analyses},
		{"/notifications", Notifications},
		{"/expenses/", Expenses},
		{"/expenses/2024", Dashboard},
		{"/unknown", Dashboard},
		{"/Analyses", Dashboard},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FromPath(tt.path))
		})
	}
}

func TestPathRoundTrip(t *testing.T) {
	for _, r := range All {
		assert.Equal(t, r, FromPath(r.Path()))
	}
	assert.Equal(t, "/", Route("bogus").Path())
}

func TestNavigator(t *testing.T) {
	n := NewNavigator()
	assert.Equal(t, Dashboard, n.Current())

	path, pushed := n.Navigate(Dashboard)
	assert.Equal(t, "/", path)
	assert.False(t, pushed)

	path, pushed = n.Navigate(Expenses)
	assert.Equal(t, "/expenses", path)
	assert.True(t, pushed)
	assert.Equal(t, Expenses, n.Current())

	_, pushed = n.Navigate(Expenses)
	assert.False(t, pushed)

	assert.Equal(t, Analyses, n.Sync("/analyses/"))
	_, pushed = n.Navigate(Dashboard)
	assert.True(t, pushed)
	assert.Equal(t, Dashboard, n.Current())
}
