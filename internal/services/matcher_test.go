package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/tcg-pricesync/internal/metrics"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

func TestMatcherResolve(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	m, err := NewMatcher(store.DB(), 16, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		ref        CardRef
		wantID     string
		confidence Confidence
		wantErr    error
		candidates []string
	}{
		{
			name:       "exact id",
			ref:        CardRef{ID: "base1-4", Name: "Something Else"},
			wantID:     "base1-4",
			confidence: ConfidenceExactID,
		},
		{
			name:       "unknown id falls through to name and set",
			ref:        CardRef{ID: "xy-42", Name: "Pikachu", SetName: "XY"},
			wantID:     "xy1-42",
			confidence: ConfidenceExactNameAndSet,
		},
		{
			name:       "name within set name",
			ref:        CardRef{Name: "Charizard", SetName: "Base Set"},
			wantID:     "base1-4",
			confidence: ConfidenceExactNameAndSet,
		},
		{
			name:       "name within set id",
			ref:        CardRef{Name: "Charizard", SetName: "base4"},
			wantID:     "base4-4",
			confidence: ConfidenceExactNameAndSet,
		},
		{
			name:       "unique name",
			ref:        CardRef{Name: "Pikachu"},
			wantID:     "xy1-42",
			confidence: ConfidenceExactName,
		},
		{
			name:       "shared name narrowed by number",
			ref:        CardRef{Name: "Charizard", Number: "4/102"},
			wantID:     "base1-4",
			confidence: ConfidenceExactName,
		},
		{
			name:       "shared name is ambiguous",
			ref:        CardRef{Name: "Charizard"},
			confidence: ConfidenceExactName,
			wantErr:    ErrAmbiguous,
			candidates: []string{"base1-4", "base4-4"},
		},
		{
			name:       "unknown set falls back to name only",
			ref:        CardRef{Name: "Charizard", SetName: "Jungle"},
			confidence: ConfidenceExactName,
			wantErr:    ErrAmbiguous,
			candidates: []string{"base1-4", "base4-4"},
		},
		{
			name:       "number extracted from name",
			ref:        CardRef{Name: "Charizard - 4/102"},
			wantID:     "base1-4",
			confidence: ConfidenceExtractedNumber,
		},
		{
			name:       "number prefix in name",
			ref:        CardRef{Name: "4/130 Charizard"},
			wantID:     "base4-4",
			confidence: ConfidenceExtractedNumber,
		},
		{
			name:       "explicit number column",
			ref:        CardRef{Name: "Pikachu (Alt)", Number: "042/146"},
			wantID:     "xy1-42",
			confidence: ConfidenceExtractedNumber,
		},
		{
			name:    "unknown card",
			ref:     CardRef{Name: "Mewtwo"},
			wantErr: ErrNotFound,
		},
		{
			name:    "unknown number",
			ref:     CardRef{Name: "Mewtwo 10/102"},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := m.Resolve(context.Background(), tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve(%+v) error = %v, want %v", tt.ref, err, tt.wantErr)
				}
				if tt.candidates != nil {
					if diff := cmp.Diff(tt.candidates, match.Candidates); diff != "" {
						t.Errorf("candidates mismatch (-want +got):\n%s", diff)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%+v) error = %v", tt.ref, err)
			}
			if match.Card.ID != tt.wantID {
				t.Errorf("Resolve(%+v) = %s, want %s", tt.ref, match.Card.ID, tt.wantID)
			}
			if match.Confidence != tt.confidence {
				t.Errorf("Resolve(%+v) confidence = %s, want %s", tt.ref, match.Confidence, tt.confidence)
			}
		})
	}
}

func TestMatcherCachesLookups(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	m, err := NewMatcher(store.DB(), 16, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Resolve(ctx, CardRef{ID: "base1-4"})
	require.NoError(t, err)

	hits := testutil.ToFloat64(metrics.MatcherCacheHits)
	_, err = m.Resolve(ctx, CardRef{ID: "base1-4"})
	require.NoError(t, err)
	require.Equal(t, hits+1, testutil.ToFloat64(metrics.MatcherCacheHits))

	// A cached miss survives until Purge
	_, err = m.Resolve(ctx, CardRef{ID: "base2-1"})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.DB().Create(&models.Card{ID: "base2-1", Name: "Clefable", SetID: "base2"}).Error)
	_, err = m.Resolve(ctx, CardRef{ID: "base2-1"})
	require.ErrorIs(t, err, ErrNotFound)

	m.Purge()
	match, err := m.Resolve(ctx, CardRef{ID: "base2-1"})
	require.NoError(t, err)
	require.Equal(t, ConfidenceExactID, match.Confidence)
}

func TestConfidenceOrdering(t *testing.T) {
	order := []Confidence{ConfidenceNone, ConfidenceExtractedNumber, ConfidenceExactName, ConfidenceExactNameAndSet, ConfidenceExactID}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if ConfidenceExactNameAndSet.String() != "exact_name_and_set" {
		t.Errorf("String() = %s", ConfidenceExactNameAndSet)
	}
}
