package agent

import (
	"testing"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
agents:
  - agentId: trader-1
    category: trading
    storagePrefix: fin_
    allowedMemoryTypes: [factual, episodic, semantic]
    priority: 5
    retentionDays: 90
  - agentId: reviewer-1
    category: code_review
    storagePrefix: dev_
    allowedMemoryTypes: [procedural, semantic]
    priority: 3
    retentionDays: 14
`

func TestParse_ResolvesAgents(t *testing.T) {
	r, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	e, err := r.Resolve("trader-1")
	require.NoError(t, err)
	require.Equal(t, "trading", e.Category)
	require.Equal(t, "fin_trading_memory", e.CollectionName())
	require.Equal(t, 90, e.RetentionDays)
}

func TestResolve_UnknownAgent(t *testing.T) {
	r, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	_, err = r.Resolve("nobody")
	require.Error(t, err)
	var unknown *UnknownAgentError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "nobody", unknown.AgentID)
}

func TestValidate_RejectsDisallowedType(t *testing.T) {
	r, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	_, err = r.Validate("reviewer-1", model.MemoryTypeWorking)
	var invalid *InvalidMemoryTypeError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, model.MemoryTypeWorking, invalid.MemoryType)

	_, err = r.Validate("reviewer-1", model.MemoryTypeProcedural)
	require.NoError(t, err)
}

func TestNew_EmptyAllowedSetPermitsAllValidTypes(t *testing.T) {
	r, err := New([]Entry{{AgentID: "a", Category: "c"}})
	require.NoError(t, err)

	_, err = r.Validate("a", model.MemoryTypeWorking)
	require.NoError(t, err)
	_, err = r.Validate("a", model.MemoryType("bogus"))
	require.Error(t, err)
}

func TestNew_RejectsDuplicatesAndBadTypes(t *testing.T) {
	_, err := New([]Entry{
		{AgentID: "a", Category: "c"},
		{AgentID: "a", Category: "c"},
	})
	require.ErrorContains(t, err, "duplicate")

	_, err = New([]Entry{{AgentID: "b", Category: "c", AllowedMemoryTypes: []model.MemoryType{"nope"}}})
	require.ErrorContains(t, err, "unknown memory type")
}

func TestCategoriesAndCollections_SortedDistinct(t *testing.T) {
	r, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"code_review", "trading"}, r.Categories())
	require.Equal(t, []string{"dev_code_review_memory", "fin_trading_memory"}, r.Collections())
}
