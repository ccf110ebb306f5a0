package gravity

import (
	"testing"

	"github.com/forgeos/graph/internal/attention"
	"github.com/stretchr/testify/require"
)

func tierPtr(v float64) *float64 { return &v }

func TestDetectConvergenceByEntanglementCluster(t *testing.T) {
	cluster := &attention.ClusterInfo{ClusterID: "c1"}
	hits := []LensHit{
		{Lens: Lens{Project: "P1"}, Recall: &attention.Output{Results: []attention.Result{
			{UUID: "u1", Attention: 0.8, Cluster: cluster},
		}}},
		{Lens: Lens{Project: "P2"}, Recall: &attention.Output{Results: []attention.Result{
			{UUID: "u2", Attention: 0.6, Cluster: cluster},
		}}},
	}
	conv := detectConvergence(hits, 0.7, 1.3)
	require.Len(t, conv, 1)
	require.Equal(t, "entanglement_cluster", conv[0].Type)
	require.InDelta(t, (0.8+0.6)*1.3, conv[0].CombinedMass, 0.001)
}

func TestDetectConvergenceBySemanticOverlap(t *testing.T) {
	hits := []LensHit{
		{Lens: Lens{Project: "P1"}, Recall: &attention.Output{Results: []attention.Result{
			{UUID: "u1", Attention: 0.5, Text: "the system should retry failed network requests automatically"},
		}}},
		{Lens: Lens{Project: "P2"}, Recall: &attention.Output{Results: []attention.Result{
			{UUID: "u2", Attention: 0.5, Text: "the system should retry failed network requests quickly"},
		}}},
	}
	conv := detectConvergence(hits, 0.70, 1.3)
	require.Len(t, conv, 1)
	require.Equal(t, "semantic_overlap", conv[0].Type)
}

func TestDetectDivergenceGapWhenOneLensEmpty(t *testing.T) {
	hits := []LensHit{
		{Lens: Lens{Project: "P1"}, Recall: &attention.Output{Results: []attention.Result{{UUID: "u1"}}}},
		{Lens: Lens{Project: "P2"}, Recall: &attention.Output{Results: nil}},
	}
	div := detectDivergence(hits, 0.25)
	require.Len(t, div, 1)
	require.Equal(t, "gap", div[0].Type)
	require.InDelta(t, 0.6, div[0].TensionScore, 0.001)
}

func TestDetectDivergenceTierMismatch(t *testing.T) {
	hits := []LensHit{
		{Lens: Lens{Project: "P1"}, Recall: &attention.Output{Results: []attention.Result{
			{UUID: "u1", Category: attention.CategoryDecision, EpistemicTier: tierPtr(0.9)},
		}}},
		{Lens: Lens{Project: "P2"}, Recall: &attention.Output{Results: []attention.Result{
			{UUID: "u2", Category: attention.CategoryDecision, EpistemicTier: tierPtr(0.3)},
		}}},
	}
	div := detectDivergence(hits, 0.25)
	require.Len(t, div, 1)
	require.Equal(t, "tier_mismatch", div[0].Type)
	require.InDelta(t, 1.0, div[0].TensionScore, 0.001)
}

func TestFieldCoherenceBounds(t *testing.T) {
	require.InDelta(t, 0.5, fieldCoherence(nil, nil, nil), 0.001)
}

func TestFieldCoherenceHigherWithConvergence(t *testing.T) {
	hits := []LensHit{
		{Recall: &attention.Output{Results: []attention.Result{{Attention: 0.8}}}},
		{Recall: &attention.Output{Results: []attention.Result{{Attention: 0.6}}}},
	}
	convergence := []ConvergencePoint{{CombinedMass: 1.0}}
	c := fieldCoherence(convergence, nil, hits)
	require.Greater(t, c, 0.5)
	require.LessOrEqual(t, c, 1.0)
}

func TestFieldCoherenceLowerWithDivergence(t *testing.T) {
	hits := []LensHit{
		{Recall: &attention.Output{Results: []attention.Result{{Attention: 0.8}}}},
		{Recall: &attention.Output{Results: []attention.Result{{Attention: 0.6}}}},
	}
	divergence := []DivergencePoint{{TensionScore: 1.0}}
	c := fieldCoherence(nil, divergence, hits)
	require.Less(t, c, 0.5)
	require.GreaterOrEqual(t, c, 0.0)
}

func TestWithGravityTypeMapsRoleToGravityKind(t *testing.T) {
	l := withGravityType(Lens{Project: "P", Role: "critic"})
	require.Equal(t, TypeCritical, l.GravityKind)
	require.Equal(t, 1.0, l.Weight)

	defaulted := withGravityType(Lens{Project: "P"})
	require.Equal(t, "connector", defaulted.Role)
	require.Equal(t, TypeLateral, defaulted.GravityKind)
}
