package diag

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker("test-ctx", prometheus.NewRegistry())
	tr.Enable()
	return tr
}

func TestCreatedDestroyedRoundTrip(t *testing.T) {
	tr := newTestTracker(t)
	site := Site("script.js", 12)
	tr.Created(site)
	tr.Created(site)
	tr.Destroyed(site)

	top := tr.TopN(10)
	require.Len(t, top, 1)
	assert.Equal(t, site, top[0].Site)
	assert.EqualValues(t, 1, top[0].Count)
}

func TestDisabledTrackerNoOps(t *testing.T) {
	tr := NewTracker("disabled-ctx", prometheus.NewRegistry())
	tr.Created(Site("a.js", 1))
	assert.Empty(t, tr.TopN(10))
}

func TestTopNOrdering(t *testing.T) {
	tr := newTestTracker(t)
	tr.Created("a:1")
	tr.Created("b:2")
	tr.Created("b:2")
	top := tr.TopN(1)
	require.Len(t, top, 1)
	assert.Equal(t, "b:2", top[0].Site)
}

func TestSiteFormat(t *testing.T) {
	assert.Equal(t, "foo.js:42", Site("foo.js", 42))
}
