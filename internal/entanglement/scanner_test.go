package entanglement

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func itemFor(uuid, project string) *Item {
	return &Item{UUID: uuid, Type: ItemDecision, Project: project, Text: "decision about " + uuid}
}

func TestClusterUnionFindProducesComponentsOfGivenSizes(t *testing.T) {
	items := map[string]*Item{}
	for _, id := range []string{"a1", "a2", "a3", "b1", "b2", "c1"} {
		items[id] = itemFor(id, "P-"+id[:1])
	}

	resonances := []Resonance{
		{A: "a1", B: "a2", Similarity: 0.7},
		{A: "a2", B: "a3", Similarity: 0.6},
		{A: "b1", B: "b2", Similarity: 0.9},
		// c1 has no resonance edge at all -> stays a loose end, not a cluster.
	}

	clusters := cluster(items, resonances)
	require.Len(t, clusters, 2)

	sizes := []int{len(clusters[0].Items), len(clusters[1].Items)}
	sort.Ints(sizes)
	require.Equal(t, []int{2, 3}, sizes)

	le := looseEnds(items, clusters)
	require.Equal(t, []string{"c1"}, le)
}

func TestClusterSortsByAvgSimilarityDescending(t *testing.T) {
	items := map[string]*Item{
		"a1": itemFor("a1", "P1"), "a2": itemFor("a2", "P2"),
		"b1": itemFor("b1", "P1"), "b2": itemFor("b2", "P2"),
	}
	resonances := []Resonance{
		{A: "a1", B: "a2", Similarity: 0.5},
		{A: "b1", B: "b2", Similarity: 0.9},
	}
	clusters := cluster(items, resonances)
	require.Len(t, clusters, 2)
	require.True(t, clusters[0].AvgSimilarity >= clusters[1].AvgSimilarity)
	require.InDelta(t, 0.9, clusters[0].AvgSimilarity, 0.001)
}

func TestClusterWithNoResonancesIsEmpty(t *testing.T) {
	items := map[string]*Item{"a1": itemFor("a1", "P1")}
	require.Nil(t, cluster(items, nil))
}
