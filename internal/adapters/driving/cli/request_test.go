package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

const yamlRequest = `
id: req-42
structures:
  - name: lysozyme
    chains:
      - id: A
        kind: protein
        sequence: KVFGRCELAAAMKRHGLDNY
      - id: L
        kind: ligand
        sequence: "CC(=O)O"
constraints:
  - scope: residue
    target_ids: ["A:12", "A:40"]
    weight: 0.5
    kind: soft
    value: 8
seeds: [1, 2]
mode_hint: validation
precision_hint: bf16
urgency: high
accuracy_required: 0.9
`

func TestParseRequest_YAML(t *testing.T) {
	req, err := parseRequest([]byte(yamlRequest))
	require.NoError(t, err)

	assert.Equal(t, "req-42", req.ID)
	require.Len(t, req.Structures, 1)
	assert.Equal(t, "lysozyme", req.Structures[0].Name)
	require.Len(t, req.Structures[0].Chains, 2)
	assert.Equal(t, domain.ChainLigand, req.Structures[0].Chains[1].Kind)
	require.Len(t, req.Constraints, 1)
	assert.Equal(t, domain.ScopeResidue, req.Constraints[0].Scope)
	assert.Equal(t, []string{"A:12", "A:40"}, req.Constraints[0].TargetIDs)
	assert.Equal(t, domain.ConstraintSoft, req.Constraints[0].Kind)
	assert.Equal(t, []int64{1, 2}, req.Seeds)
	assert.Equal(t, domain.ModeValidation, req.ModeHint)
	assert.Equal(t, "bf16", req.PrecisionHint)
	assert.Equal(t, domain.UrgencyHigh, req.Urgency)
	assert.Equal(t, 0.9, req.AccuracyRequired)
	assert.NoError(t, req.Validate())
}

func TestParseRequest_JSON(t *testing.T) {
	data := `{
	"structures": [{"name": "dimer", "chains": [
		{"id": "A", "kind": "protein", "sequence": "MKV"},
		{"id": "B", "kind": "rna", "sequence": "ACGU"}
	]}],
	"seeds": [7],
	"high_confidence_required": true
}`
	req, err := parseRequest([]byte(data))
	require.NoError(t, err)

	require.Len(t, req.Structures, 1)
	assert.Len(t, req.Structures[0].Chains, 2)
	assert.Equal(t, []int64{7}, req.Seeds)
	assert.True(t, req.HighConfidenceRequired)
}

func TestParseRequest_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{
			name:    "empty document",
			data:    "",
			wantMsg: "Invalid type",
		},
		{
			name:    "no structures",
			data:    "structures: []",
			wantMsg: "structures",
		},
		{
			name:    "unknown chain kind",
			data:    "structures:\n  - chains:\n      - {kind: peptide, sequence: MKV}",
			wantMsg: "kind",
		},
		{
			name:    "unknown field",
			data:    "structures:\n  - chains:\n      - {kind: protein, sequence: MKV}\npriority: 3",
			wantMsg: "priority",
		},
		{
			name:    "accuracy out of range",
			data:    "structures:\n  - chains:\n      - {kind: protein, sequence: MKV}\naccuracy_required: 2",
			wantMsg: "accuracy_required",
		},
		{
			name:    "unknown mode",
			data:    "structures:\n  - chains:\n      - {kind: protein, sequence: MKV}\nmode_hint: turbo",
			wantMsg: "mode_hint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRequest([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseRequest_Malformed(t *testing.T) {
	_, err := parseRequest([]byte("{not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "parsing request")
}

func TestReadRequestFile(t *testing.T) {
	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "req.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yamlRequest), 0o600))

		req, err := readRequestFile(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "req-42", req.ID)
	})

	t.Run("from stdin", func(t *testing.T) {
		req, err := readRequestFile("-", strings.NewReader(yamlRequest))
		require.NoError(t, err)
		assert.Equal(t, "req-42", req.ID)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readRequestFile(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading request")
	})
}
