package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/"})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.client.Timeout)
}

func TestClient_Infer(t *testing.T) {
	var got inferRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/infer", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(domain.Prediction{
			Structure:  domain.Structure{Format: "mmcif", Data: []byte("data_x")},
			Confidence: domain.ConfidenceMetrics{PLDDT: 87.5, PTM: 0.71},
		})
	})

	constraints := domain.ResolvedConstraintSet{
		Constraints: []domain.ResolvedConstraint{{Scope: domain.ScopeResidue, Target: "A:45", Kind: domain.ConstraintSoft, Weight: 1}},
		Dropped:     []domain.DroppedConstraint{{Reason: "overridden"}},
		Strength:    1,
	}
	pred, err := c.Infer(context.Background(),
		domain.Features{EmbeddingOnly: true},
		constraints,
		domain.EffectivePrecision{Requested: domain.PrecisionBF16},
		domain.ModelConfig{Mode: domain.ModeScreening, Variant: domain.VariantFull, BatchSize: 8},
		42)
	require.NoError(t, err)

	assert.Equal(t, "mmcif", pred.Structure.Format)
	assert.Equal(t, "data_x", string(pred.Structure.Data))
	assert.InDelta(t, 87.5, pred.Confidence.PLDDT, 1e-9)

	assert.Equal(t, int64(42), got.Seed)
	assert.True(t, got.Features.EmbeddingOnly)
	assert.Equal(t, domain.PrecisionBF16, got.Precision.Requested)
	assert.Equal(t, 8, got.Config.BatchSize)
	require.Len(t, got.Constraints.Constraints, 1)
	assert.Empty(t, got.Constraints.Dropped, "dropped constraints are not sent")
}

func TestClient_Infer_GPUMemory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusServiceUnavailable, CodeGPUMemory, "CUDA out of memory")
	})

	_, err := c.Infer(context.Background(), domain.Features{}, domain.ResolvedConstraintSet{},
		domain.EffectivePrecision{}, domain.ModelConfig{Variant: domain.VariantFull}, 1)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGPUMemory)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestClient_Search(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/msa", r.URL.Path)
		var req msaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(domain.Alignment{Depth: 512, Data: []byte(">q\n" + req.Sequence)})
	})

	aln, err := c.Search(context.Background(), "MKTAYIAK")
	require.NoError(t, err)
	assert.Equal(t, "MKTAYIAK", aln.Sequence)
	assert.Equal(t, 512, aln.Depth)
}

func TestClient_Search_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusGatewayTimeout, CodeMSATimeout, "jackhmmer exceeded budget")
	})

	_, err := c.Search(context.Background(), "MKT")
	assert.ErrorIs(t, err, domain.ErrMSATimeout)
}

func TestClient_Resolve(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/weights/v2.1/mini", r.URL.Path)
		_ = json.NewEncoder(w).Encode(domain.WeightsManifest{
			ModelVersion: "v2.1", Variant: domain.VariantMini, URI: "s3://ckpt/v2.1/mini.pt", Digest: "sha256:ab",
		})
	})

	m, err := c.Resolve(context.Background(), "v2.1", domain.VariantMini)
	require.NoError(t, err)
	assert.Equal(t, "s3://ckpt/v2.1/mini.pt", m.URI)
}

func TestClient_Resolve_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})

	_, err := c.Resolve(context.Background(), "v9", domain.VariantFull)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_Check(t *testing.T) {
	hard := []domain.ResolvedConstraint{
		{Scope: domain.ScopeResidue, Target: "A:10", Kind: domain.ConstraintHard, Value: 5},
		{Scope: domain.ScopeResidue, Target: "A:20", Kind: domain.ConstraintHard, Value: 6},
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Hard, 2)
		_ = json.NewEncoder(w).Encode(checkResponse{Violated: req.Hard[1:]})
	})

	violated, err := c.Check(context.Background(), domain.Structure{Format: "pdb"}, hard)
	require.NoError(t, err)
	require.Len(t, violated, 1)
	assert.Equal(t, "A:20", violated[0].Target)
}

func TestClient_Check_NoHardConstraintsSkipsCall(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("unexpected request")
	})

	violated, err := c.Check(context.Background(), domain.Structure{}, nil)
	require.NoError(t, err)
	assert.Nil(t, violated)
}

func TestClient_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, "MKT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := c.Search(context.Background(), "MKT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
