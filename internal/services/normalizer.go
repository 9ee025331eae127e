package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// Field is a canonical record field resolved from source-specific column names.
type Field string

const (
	FieldID      Field = "id"
	FieldName    Field = "name"
	FieldSet     Field = "set"
	FieldNumber  Field = "number"
	FieldDate    Field = "date"
	FieldVariant Field = "variant"
	FieldVolume  Field = "volume"
	FieldSource  Field = "source"
)

// ColumnAliases lists the header spellings seen in exports for each canonical field.
// Matching ignores case, spacing and punctuation, so "Card ID", "card_id" and "cardId" are one entry.
var ColumnAliases = map[Field][]string{
	FieldID:      {"Card ID", "id", "product_id", "tcg_id"},
	FieldName:    {"Card Name", "name", "product_name", "clean_name"},
	FieldSet:     {"Set Name", "set", "set_id", "group_name", "expansion"},
	FieldNumber:  {"Number", "card_number", "ext_number", "collector_number"},
	FieldDate:    {"Date", "price_date", "snapshot_date", "updated_at", "updatedAt"},
	FieldVariant: {"Variant", "sub_type_name", "printing", "finish"},
	FieldVolume:  {"Volume", "sales_volume", "quantity_sold"},
	FieldSource:  {"source", "price_source"},
}

// PriceColumn is a price header, optionally implying the variant it prices.
type PriceColumn struct {
	Header  string
	Variant models.Variant // empty: taken from the variant column
}

// VariantPriceColumns each produce their own record when present.
var VariantPriceColumns = []PriceColumn{
	{"TCGPlayer Market (Normal)", models.VariantNormal},
	{"TCGPlayer Market (Holofoil)", models.VariantHolofoil},
	{"TCGPlayer Market (Reverse Holofoil)", models.VariantReverseHolofoil},
	{"TCGPlayer Market (1st Edition)", models.Variant1stEdition},
	{"TCGPlayer Market (Unlimited)", models.VariantUnlimited},
}

// PriceColumns are tried in order; the first non-empty one is the observation.
var PriceColumns = []PriceColumn{
	{Header: "Market Price"},
	{Header: "TCG Market Price"},
	{Header: "new_price"},
	{Header: "Mid Price"},
	{Header: "TCG Mid"},
	{Header: "price"},
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// PriceRecord is a canonical observation before matching.
type PriceRecord struct {
	Line    int
	CardID  string
	Name    string
	SetName string
	Number  string
	Date    string // YYYY-MM-DD
	Variant models.Variant
	Price   decimal.Decimal
	Volume  *int64
	Source  string
}

// Ref is the card reference as given by the source, for logs and reject entries.
func (r PriceRecord) Ref() string {
	if r.CardID != "" {
		return r.CardID
	}
	return r.Name
}

// CardRef returns what the matcher needs to resolve the record.
func (r PriceRecord) CardRef() CardRef {
	return CardRef{ID: r.CardID, Name: r.Name, SetName: r.SetName, Number: r.Number}
}

// Normalizer maps heterogeneous source rows onto PriceRecords.
type Normalizer struct {
	now     func() time.Time
	aliases map[Field][]string // normalized headers, in preference order
}

// NewNormalizer returns a Normalizer that dates undated rows with now(). Nil means time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	aliases := make(map[Field][]string, len(ColumnAliases))
	for field, headers := range ColumnAliases {
		for _, h := range headers {
			aliases[field] = append(aliases[field], normalizeHeader(h))
		}
	}
	return &Normalizer{now: now, aliases: aliases}
}

// Normalize turns one source row into one record per priced variant.
// Errors: ErrMissingRequiredField when the row has no id/name or no price column,
// ErrNoObservation when every price column is empty or not positive, ErrRecordMalformed for
// unparseable dates.
func (n *Normalizer) Normalize(row SourceRow, source string) ([]PriceRecord, error) {
	columns := make(map[string]string, len(row.Fields))
	for header, value := range row.Fields {
		columns[normalizeHeader(header)] = value
	}

	fields := make(map[Field]string, len(n.aliases))
	for field, headers := range n.aliases {
		for _, h := range headers {
			if v := strings.TrimSpace(columns[h]); v != "" {
				fields[field] = v
				break
			}
		}
	}

	base := PriceRecord{
		Line:    row.Line,
		CardID:  fields[FieldID],
		Name:    fields[FieldName],
		SetName: fields[FieldSet],
		Number:  fields[FieldNumber],
		Source:  source,
	}
	if s := fields[FieldSource]; s != "" {
		base.Source = s
	}
	if base.CardID == "" && base.Name == "" {
		return nil, fmt.Errorf("%w: no card id or name", ErrMissingRequiredField)
	}

	date, err := n.normalizeDate(fields[FieldDate])
	if err != nil {
		return nil, err
	}
	base.Date = date

	if v := fields[FieldVolume]; v != "" {
		if vol, err := strconv.ParseInt(strings.ReplaceAll(v, ",", ""), 10, 64); err == nil {
			base.Volume = &vol
		}
	}

	var records []PriceRecord
	sawPriceColumn := false

	for _, col := range VariantPriceColumns {
		raw, ok := columns[normalizeHeader(col.Header)]
		if !ok {
			continue
		}
		sawPriceColumn = true
		if price, ok := parsePrice(raw); ok {
			rec := base
			rec.Variant = col.Variant
			rec.Price = price
			records = append(records, rec)
		}
	}
	if len(records) > 0 {
		return records, nil
	}

	for _, col := range PriceColumns {
		raw, ok := columns[normalizeHeader(col.Header)]
		if !ok {
			continue
		}
		sawPriceColumn = true
		if price, ok := parsePrice(raw); ok {
			rec := base
			rec.Variant = models.NormalizeVariant(fields[FieldVariant])
			rec.Price = price
			return []PriceRecord{rec}, nil
		}
	}

	if !sawPriceColumn {
		return nil, fmt.Errorf("%w: no price column", ErrMissingRequiredField)
	}
	return nil, ErrNoObservation
}

// Ref is the row's card id, else its name, for rows that never became a record.
func (n *Normalizer) Ref(row SourceRow) string {
	columns := make(map[string]string, len(row.Fields))
	for header, value := range row.Fields {
		columns[normalizeHeader(header)] = value
	}
	for _, field := range []Field{FieldID, FieldName} {
		for _, h := range n.aliases[field] {
			if v := strings.TrimSpace(columns[h]); v != "" {
				return v
			}
		}
	}
	return ""
}

func (n *Normalizer) normalizeDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return n.now().Format("2006-01-02"), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: unrecognized date %q", ErrRecordMalformed, raw)
}

// parsePrice reads "$1,234.50"-style text. Empty, non-numeric and non-positive values are
// not observations.
func parsePrice(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	// Stored prices have two decimals, so check positivity after rounding
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// normalizeHeader lowercases and drops everything but letters and digits
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
