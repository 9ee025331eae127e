package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/tcg-pricesync/internal/database"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

func newTestStore(t *testing.T) *PriceStore {
	t.Helper()
	db, err := database.Open(database.Options{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return NewPriceStore(db, nil)
}

// seedCatalog loads a small catalog with two same-named Charizards
func seedCatalog(t *testing.T, store *PriceStore) {
	t.Helper()
	sets := []models.Set{
		{ID: "base1", Name: "Base Set", ReleaseDate: "1999-01-09"},
		{ID: "base4", Name: "Base Set 2", ReleaseDate: "2000-02-24"},
		{ID: "xy1", Name: "XY"},
		{ID: "pop5", Name: "POP Series 5"},
	}
	cards := []models.Card{
		{ID: "base1-4", Name: "Charizard", SetID: "base1", Number: "004/102", Rarity: "Rare Holo"},
		{ID: "base4-4", Name: "Charizard", SetID: "base4", Number: "004/130", Rarity: "Rare Holo"},
		{ID: "xy1-42", Name: "Pikachu", SetID: "xy1", Number: "042/146", Rarity: "Common"},
		{ID: "pop5-17", Name: "Umbreon Gold Star", SetID: "pop5", Number: "017/017", Rarity: "Rare Holo Star"},
	}
	require.NoError(t, store.DB().Create(&sets).Error)
	require.NoError(t, store.DB().Create(&cards).Error)
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireCurrentValue(t *testing.T, store *PriceStore, cardID, want string) {
	t.Helper()
	card, err := store.GetCard(context.Background(), cardID)
	require.NoError(t, err)
	require.True(t, card.CurrentValue.Valid, "current value of %s is NULL", cardID)
	require.True(t, card.CurrentValue.Decimal.Equal(price(want)),
		"current value of %s = %s, want %s", cardID, card.CurrentValue.Decimal, want)
}

func TestUpsertOverwritesSameKey(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	for _, p := range []string{"325.00", "331.50"} {
		_, err := store.UpsertAndRecompute(ctx, &models.PriceHistory{
			ProductID: "base1-4", Date: "2025-10-16", Variant: models.VariantHolofoil, Price: price(p), Source: "test",
		})
		require.NoError(t, err)
	}

	rows, err := store.History(ctx, "base1-4", "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Price.Equal(price("331.50")))
	requireCurrentValue(t, store, "base1-4", "331.50")
}

func TestRecomputeUsesLatestDate(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	// Inserted out of order: the latest date wins, not the latest insert
	for _, row := range []struct{ date, price string }{
		{"2025-10-21", "328"},
		{"2025-10-16", "325"},
		{"2025-10-18", "330"},
	} {
		require.NoError(t, store.Upsert(ctx, &models.PriceHistory{
			ProductID: "base1-4", Date: row.date, Variant: models.VariantNormal, Price: price(row.price),
		}))
	}

	value, err := store.RecomputeCurrentValue(ctx, "base1-4")
	require.NoError(t, err)
	require.True(t, value.Valid)
	require.True(t, value.Decimal.Equal(price("328")))
	requireCurrentValue(t, store, "base1-4", "328.00")

	rows, err := store.History(ctx, "base1-4", models.VariantNormal, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2025-10-21", rows[0].Date)
	require.Equal(t, "2025-10-18", rows[1].Date)
}

func TestRecomputeSameDateFollowsLatestWrite(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	for _, row := range []struct {
		variant models.Variant
		price   string
	}{
		{models.VariantNormal, "100"},
		{models.VariantHolofoil, "200"},
		{models.VariantNormal, "110"},
	} {
		_, err := store.UpsertAndRecompute(ctx, &models.PriceHistory{
			ProductID: "base1-4", Date: "2025-10-16", Variant: row.variant, Price: price(row.price),
		})
		require.NoError(t, err)
	}

	requireCurrentValue(t, store, "base1-4", "110")

	rows, err := store.History(ctx, "base1-4", "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, models.VariantNormal, rows[0].Variant)
	require.True(t, rows[0].Price.Equal(price("110")))
}

func TestRecomputeWithoutHistoryClearsValue(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	require.NoError(t, store.DB().Model(&models.Card{}).Where("id = ?", "xy1-42").
		Update("current_value", decimal.NewNullDecimal(price("12.34"))).Error)

	value, err := store.RecomputeCurrentValue(ctx, "xy1-42")
	require.NoError(t, err)
	require.False(t, value.Valid)

	card, err := store.GetCard(ctx, "xy1-42")
	require.NoError(t, err)
	require.False(t, card.CurrentValue.Valid)
}

func TestRecomputeUnknownCard(t *testing.T) {
	store := newTestStore(t)
	_, err := store.RecomputeCurrentValue(context.Background(), "nope-1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetCard(context.Background(), "nope-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCardCascades(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	for _, d := range []string{"2025-10-16", "2025-10-17"} {
		_, err := store.UpsertAndRecompute(ctx, &models.PriceHistory{ProductID: "xy1-42", Date: d, Price: price("1.25")})
		require.NoError(t, err)
	}
	_, err := store.UpsertAndRecompute(ctx, &models.PriceHistory{ProductID: "base1-4", Date: "2025-10-16", Price: price("325")})
	require.NoError(t, err)

	report, err := store.DeleteCard(ctx, "xy1-42")
	require.NoError(t, err)
	require.Equal(t, int64(2), report.PriceRows)
	require.Equal(t, []string{"xy1"}, report.SetsRemoved)

	_, err = store.GetCard(ctx, "xy1-42")
	require.ErrorIs(t, err, ErrNotFound)

	var sets int64
	require.NoError(t, store.DB().Model(&models.Set{}).Where("id = ?", "xy1").Count(&sets).Error)
	require.Zero(t, sets)

	// Other cards keep their history
	rows, err := store.History(ctx, "base1-4", "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = store.DeleteCard(ctx, "xy1-42")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := newResult("run-1", models.RunKindPrices, "prices.csv", testNow())
	res.State = models.RunStateClosed
	res.Processed = 2
	res.NotFound = 1
	res.reject(3, "nope-1", models.RejectNotFound, ErrNotFound, map[string]string{"Card ID": "nope-1"})

	require.NoError(t, store.SaveRun(ctx, res.ImportRun(), res.Rejected))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, models.RunStateClosed, run.State)
	require.Equal(t, 1, run.NotFound)
	require.Len(t, run.Rejected, 1)
	require.Equal(t, models.RejectNotFound, run.Rejected[0].Reason)
	require.Equal(t, 3, run.Rejected[0].Line)
	require.JSONEq(t, `{"Card ID":"nope-1"}`, run.Rejected[0].Raw)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Empty(t, runs[0].Rejected)

	_, err = store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
