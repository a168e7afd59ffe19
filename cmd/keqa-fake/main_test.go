package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/keqa/internal/fakeengine"
)

func TestParseFaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    fakeengine.Faults
		wantErr bool
	}{
		{in: "", want: fakeengine.Faults{}},
		{in: "fail-jobs", want: fakeengine.Faults{FailJobs: true}},
		{in: "phantom-links, unavailable", want: fakeengine.Faults{PhantomLinks: true, Unavailable: true}},
		{in: "never-complete,", want: fakeengine.Faults{NeverComplete: true}},
		{in: "unlinked-articles", want: fakeengine.Faults{UnlinkedArticles: true}},
		{in: "explode", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFaults(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
