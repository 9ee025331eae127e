package services

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/tcg-pricesync/internal/models"
)

const baseSetCatalog = `Card ID,Card Name,Set ID,Set Name,Number,Rarity,Release Date
base1-4,Charizard,base1,Base Set,4/102,Rare Holo,1999/01/09
base1-58,Pikachu,base1,Base Set,58,Common,1999/01/09
base1-99,Energy Search,base1,Base Set,SV-X,Common,
,Nameless,base1,Base Set,1,Common,
`

func TestCatalogImport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	importer := NewCatalogImporter(store, "", nil)

	res, err := importer.Run(ctx, NewCSVSource("base1.csv", strings.NewReader(baseSetCatalog)))
	require.NoError(t, err)
	require.Equal(t, models.RunStateClosed, res.State)
	require.Equal(t, models.RunKindCatalog, res.Kind)
	require.Equal(t, 4, res.Processed)
	require.Equal(t, 3, res.Updated)
	require.Equal(t, 1, res.InvalidNumbers)
	require.Equal(t, 1, res.Malformed)

	for id, number := range map[string]string{
		"base1-4":  "004/102",
		"base1-58": "058/???",
		"base1-99": "",
	} {
		card, err := store.GetCard(ctx, id)
		require.NoError(t, err)
		require.Equal(t, number, card.Number, id)
		require.Equal(t, "base1", card.SetID)
	}

	var set models.Set
	require.NoError(t, store.DB().First(&set, "id = ?", "base1").Error)
	require.Equal(t, "Base Set", set.Name)
	require.Equal(t, "1999-01-09", set.ReleaseDate)

	run, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	require.Equal(t, 1, run.Invalid)
	require.Len(t, run.Rejected, 2)
}

func TestCatalogImportKeepsCurrentValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	importer := NewCatalogImporter(store, "", nil)

	_, err := importer.Run(ctx, NewCSVSource("base1.csv", strings.NewReader(baseSetCatalog)))
	require.NoError(t, err)
	require.NoError(t, store.DB().Model(&models.Card{}).Where("id = ?", "base1-4").
		Update("current_value", decimal.NewNullDecimal(decimal.RequireFromString("328"))).Error)

	renamed := `Card ID,Card Name,Set ID,Number,Rarity
base1-4,Charizard (Holo),base1,004/102,Holo Rare
`
	res, err := importer.Run(ctx, NewCSVSource("fix.csv", strings.NewReader(renamed)))
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)

	card, err := store.GetCard(ctx, "base1-4")
	require.NoError(t, err)
	require.Equal(t, "Charizard (Holo)", card.Name)
	require.Equal(t, "Holo Rare", card.Rarity)
	requireCurrentValue(t, store, "base1-4", "328")

	// A row without a set name keeps the stored one
	var set models.Set
	require.NoError(t, store.DB().First(&set, "id = ?", "base1").Error)
	require.Equal(t, "Base Set", set.Name)
	require.Equal(t, "1999-01-09", set.ReleaseDate)
}

func TestCatalogImportKeepsNumberAndRarityWhenMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	importer := NewCatalogImporter(store, "", nil)

	_, err := importer.Run(ctx, NewCSVSource("base1.csv", strings.NewReader(baseSetCatalog)))
	require.NoError(t, err)

	partial := `Card ID,Card Name,Set ID,Number
base1-4,Charizard,base1,SV-X
base1-58,Pikachu,base1,
`
	res, err := importer.Run(ctx, NewCSVSource("partial.csv", strings.NewReader(partial)))
	require.NoError(t, err)
	require.Equal(t, 2, res.Updated)
	require.Equal(t, 1, res.InvalidNumbers)

	for id, want := range map[string]struct{ number, rarity string }{
		"base1-4":  {"004/102", "Rare Holo"},
		"base1-58": {"058/???", "Common"},
	} {
		card, err := store.GetCard(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want.number, card.Number, id)
		require.Equal(t, want.rarity, card.Rarity, id)
	}
}
