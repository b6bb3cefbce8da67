package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(domain string, ts int64) *Event {
	return &Event{
		Domain:    domain,
		Type:      TypeTelemetry,
		EventType: EventTelemetry,
		Timestamp: ts,
		Lat:       34.05,
		Lng:       -118.25,
	}
}

func TestMergeEdges(t *testing.T) {
	t.Run("keeps only domain transitions", func(t *testing.T) {
		audit := []*Event{
			sample(DomainAudit, 1000),
			sample(DomainAudit, 2000),
			sample(DomainAudit, 5000),
		}
		provider := []*Event{
			sample(DomainProvider, 3000),
			sample(DomainProvider, 4000),
		}

		edges := mergeEdges(audit, provider)

		// 1000a 2000a 3000p 4000p 5000a -> 1000a 3000p 5000a
		require.Len(t, edges, 3)
		assert.Equal(t, int64(1000), edges[0].Timestamp)
		assert.Equal(t, int64(3000), edges[1].Timestamp)
		assert.Equal(t, int64(5000), edges[2].Timestamp)
	})

	t.Run("drops samples without coordinates", func(t *testing.T) {
		bare := &Event{Domain: DomainAudit, Timestamp: 500}
		edges := mergeEdges([]*Event{bare, sample(DomainAudit, 1000)}, nil)

		require.Len(t, edges, 1)
		assert.Equal(t, int64(1000), edges[0].Timestamp)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, mergeEdges(nil, nil))
	})
}

func TestMatchEdges(t *testing.T) {
	const matchDelta = 10_000 // 10s in milliseconds

	t.Run("pairs an edge with its nearest neighbor", func(t *testing.T) {
		edges := []*Event{
			sample(DomainAudit, 1000),
			sample(DomainProvider, 2000),
			sample(DomainAudit, 9000),
		}

		matched := matchEdges(edges, matchDelta)

		require.Len(t, matched, 1)
		// 2000 is 1000ms from prev and 7000ms from next: prev wins.
		assert.Equal(t, int64(2000), matched[0][0].Timestamp)
		assert.Equal(t, int64(1000), matched[0][1].Timestamp)
	})

	t.Run("falls through to next when prev is too far", func(t *testing.T) {
		edges := []*Event{
			sample(DomainAudit, 1000),
			sample(DomainProvider, 50_000),
			sample(DomainAudit, 52_000),
		}

		matched := matchEdges(edges, matchDelta)

		require.Len(t, matched, 1)
		assert.Equal(t, int64(50_000), matched[0][0].Timestamp)
		assert.Equal(t, int64(52_000), matched[0][1].Timestamp)
	})

	t.Run("match at exactly the tolerance boundary", func(t *testing.T) {
		edges := []*Event{
			sample(DomainAudit, 0),
			sample(DomainProvider, matchDelta),
		}
		assert.Len(t, matchEdges(edges, matchDelta), 1)
	})

	t.Run("no match just past the tolerance boundary", func(t *testing.T) {
		edges := []*Event{
			sample(DomainAudit, 0),
			sample(DomainProvider, matchDelta+1),
		}
		assert.Empty(t, matchEdges(edges, matchDelta))
	})

	t.Run("single edge cannot match", func(t *testing.T) {
		assert.Empty(t, matchEdges([]*Event{sample(DomainAudit, 1000)}, matchDelta))
	})

	t.Run("deterministic over repeated runs", func(t *testing.T) {
		edges := []*Event{
			sample(DomainAudit, 1000),
			sample(DomainProvider, 1500),
			sample(DomainAudit, 3000),
			sample(DomainProvider, 3300),
			sample(DomainAudit, 8000),
		}

		first := matchEdges(edges, matchDelta)
		for i := 0; i < 10; i++ {
			again := matchEdges(edges, matchDelta)
			require.Equal(t, first, again)
		}
	})
}
