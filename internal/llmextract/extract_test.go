package llmextract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractEntitiesShortCircuitsOnBlankText(t *testing.T) {
	c := NewClient("unused-key", "")
	out, err := c.ExtractEntities(context.Background(), "   ")
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestParseEntityListTrimsAndDropsEmpty(t *testing.T) {
	out := parseEntityList(" ForgeOS , , LSM Tree ,Kafka\n")
	require.Equal(t, []string{"ForgeOS", "LSM Tree", "Kafka"}, out)
}

func TestParseEntityListEmptyInput(t *testing.T) {
	require.Nil(t, parseEntityList(""))
}
