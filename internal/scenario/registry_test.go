package scenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Env, *T) {}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(&Scenario{Name: "a", Threshold: 80, Run: noop}))

	tests := []struct {
		name string
		s    *Scenario
		want string
	}{
		{"nil", nil, "name is required"},
		{"empty name", &Scenario{Run: noop}, "name is required"},
		{"no run", &Scenario{Name: "b"}, "no Run function"},
		{"bad threshold", &Scenario{Name: "c", Threshold: 120, Run: noop}, "outside 0-100"},
		{"duplicate", &Scenario{Name: "a", Run: noop}, "already registered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.Panics(t, func() { r.MustRegister(&Scenario{Name: "a", Run: noop}) })
}

func TestRegistry_Select(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.MustRegister(&Scenario{Name: "one", Tags: []string{"fast"}, Run: noop})
	r.MustRegister(&Scenario{Name: "two", Run: noop})
	r.MustRegister(&Scenario{Name: "three", Tags: []string{"fast"}, Run: noop})

	names := func(ss []*Scenario) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.Name)
		}
		return out
	}

	all, err := r.Select()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, names(all))

	picked, err := r.Select("three", "one", "three")
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "one"}, names(picked))

	tagged, err := r.Select("tag:fast", "two")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three", "two"}, names(tagged))

	_, err = r.Select("one", "zeta", "alpha", "tag:none")
	require.Error(t, err)
	assert.Equal(t, "unknown scenario(s): alpha, tag:none, zeta", err.Error())

	s, ok := r.Get("two")
	assert.True(t, ok)
	assert.Equal(t, "two", s.Name)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestThreshold(t *testing.T) {
	t.Parallel()
	assert.Zero(t, Threshold(nil))
	assert.Equal(t, 90.0, Threshold([]*Scenario{{Threshold: 60}, {Threshold: 90}, {Threshold: 80}}))
}
