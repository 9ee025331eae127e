package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/metrics"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// Confidence ranks how a card reference was resolved. Higher is stronger.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceExtractedNumber
	ConfidenceExactName
	ConfidenceExactNameAndSet
	ConfidenceExactID
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceExactID:
		return "exact_id"
	case ConfidenceExactNameAndSet:
		return "exact_name_and_set"
	case ConfidenceExactName:
		return "exact_name"
	case ConfidenceExtractedNumber:
		return "extracted_number"
	default:
		return "none"
	}
}

// CardRef is a card reference as a source states it. Any field may be empty.
type CardRef struct {
	ID      string
	Name    string
	SetName string // set name or set id
	Number  string
}

func (r CardRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Name
}

// Match is a resolved reference. Candidates lists every card id tied at the winning tier.
type Match struct {
	Card       models.Card
	Confidence Confidence
	Candidates []string
}

// Matcher resolves card references against the cards table, strongest rule first:
// exact id, exact name within a set, exact name, then collector number (explicit or extracted
// from the name). Ties at a tier are reported as ErrAmbiguous instead of picking one.
type Matcher struct {
	db    *gorm.DB
	cards *lru.Cache[string, []models.Card]
	sets  *lru.Cache[string, map[string]bool]
	log   *zap.Logger
}

// NewMatcher creates a matcher whose lookups are cached in an LRU of cacheSize entries.
func NewMatcher(db *gorm.DB, cacheSize int, log *zap.Logger) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cards, err := lru.New[string, []models.Card](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create matcher cache: %w", err)
	}
	sets, err := lru.New[string, map[string]bool](256)
	if err != nil {
		return nil, fmt.Errorf("create set cache: %w", err)
	}
	return &Matcher{db: db, cards: cards, sets: sets, log: logging.OrNop(log).Named("matcher")}, nil
}

// Purge drops cached lookups, e.g. after the catalog changed.
func (m *Matcher) Purge() {
	m.cards.Purge()
	m.sets.Purge()
}

// Resolve finds the card ref refers to. Errors: ErrNotFound, ErrAmbiguous (the returned Match
// carries the tied candidates), or a database error.
func (m *Matcher) Resolve(ctx context.Context, ref CardRef) (Match, error) {
	match, err := m.resolve(ctx, ref)
	switch {
	case err == nil:
		metrics.MatcherResolutionsTotal.WithLabelValues(match.Confidence.String()).Inc()
		m.log.Debug("Resolved card",
			zap.String("ref", ref.String()),
			zap.String("card_id", match.Card.ID),
			zap.Stringer("confidence", match.Confidence))
	case errors.Is(err, ErrAmbiguous):
		metrics.MatcherResolutionsTotal.WithLabelValues("ambiguous").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.MatcherResolutionsTotal.WithLabelValues("not_found").Inc()
	}
	return match, err
}

func (m *Matcher) resolve(ctx context.Context, ref CardRef) (Match, error) {
	ref.ID = strings.TrimSpace(ref.ID)
	ref.Name = strings.TrimSpace(ref.Name)
	ref.SetName = strings.TrimSpace(ref.SetName)

	// 1. Exact id
	if ref.ID != "" {
		cards, err := m.lookup(ctx, "id", ref.ID)
		if err != nil {
			return Match{}, err
		}
		if len(cards) == 1 {
			return Match{Card: cards[0], Confidence: ConfidenceExactID, Candidates: ids(cards)}, nil
		}
	}

	// 2. Exact name, narrowed by set when one is given
	if ref.Name != "" {
		cards, err := m.lookup(ctx, "name", ref.Name)
		if err != nil {
			return Match{}, err
		}
		if ref.SetName != "" {
			inSet, err := m.filterBySet(ctx, cards, ref.SetName)
			if err != nil {
				return Match{}, err
			}
			if len(inSet) > 0 {
				return m.pick(m.narrowByNumber(inSet, ref.Number), ConfidenceExactNameAndSet, ref)
			}
		}
		if len(cards) > 0 {
			return m.pick(m.narrowByNumber(cards, ref.Number), ConfidenceExactName, ref)
		}
	}

	// 3. Collector number: the source's number column, else one embedded in the name
	number, baseName := ref.Number, ref.Name
	if number == "" {
		var ok bool
		number, baseName, ok = models.ExtractNumber(ref.Name)
		if !ok {
			return Match{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
	}
	std, err := models.StandardizeNumber(number)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %s: %v", ErrNotFound, ref, err)
	}

	cards, err := m.lookup(ctx, "number", std)
	if err != nil {
		return Match{}, err
	}
	if ref.SetName != "" {
		if cards, err = m.filterBySet(ctx, cards, ref.SetName); err != nil {
			return Match{}, err
		}
	}
	if baseName != "" && len(cards) > 1 {
		var named []models.Card
		for _, c := range cards {
			if strings.EqualFold(c.Name, baseName) {
				named = append(named, c)
			}
		}
		if len(named) > 0 {
			cards = named
		}
	}
	if len(cards) == 0 {
		return Match{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return m.pick(cards, ConfidenceExtractedNumber, ref)
}

func (m *Matcher) pick(cards []models.Card, c Confidence, ref CardRef) (Match, error) {
	match := Match{Confidence: c, Candidates: ids(cards)}
	if len(cards) > 1 {
		m.log.Warn("Ambiguous card reference",
			zap.String("ref", ref.String()),
			zap.Stringer("confidence", c),
			zap.Strings("candidates", match.Candidates))
		return match, fmt.Errorf("%w: %s matches %d cards at %s", ErrAmbiguous, ref, len(cards), c)
	}
	match.Card = cards[0]
	return match, nil
}

// narrowByNumber keeps the cards with the given collector number, when that leaves any
func (m *Matcher) narrowByNumber(cards []models.Card, number string) []models.Card {
	if len(cards) < 2 || number == "" {
		return cards
	}
	std, err := models.StandardizeNumber(number)
	if err != nil {
		return cards
	}
	var out []models.Card
	for _, c := range cards {
		if c.Number == std {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return cards
	}
	return out
}

func (m *Matcher) filterBySet(ctx context.Context, cards []models.Card, set string) ([]models.Card, error) {
	setIDs, err := m.setIDs(ctx, set)
	if err != nil {
		return nil, err
	}
	var out []models.Card
	for _, c := range cards {
		if setIDs[c.SetID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// setIDs resolves a set name or id to the matching set ids
func (m *Matcher) setIDs(ctx context.Context, set string) (map[string]bool, error) {
	if cached, ok := m.sets.Get(set); ok {
		return cached, nil
	}
	var found []string
	if err := m.db.WithContext(ctx).Model(&models.Set{}).
		Where("name = ? OR id = ?", set, set).
		Pluck("id", &found).Error; err != nil {
		return nil, fmt.Errorf("look up set %q: %w", set, err)
	}
	out := map[string]bool{set: true}
	for _, id := range found {
		out[id] = true
	}
	m.sets.Add(set, out)
	return out, nil
}

// lookup returns the cards whose column equals value, ordered by name then id
func (m *Matcher) lookup(ctx context.Context, column, value string) ([]models.Card, error) {
	key := column + ":" + value
	if cached, ok := m.cards.Get(key); ok {
		metrics.MatcherCacheHits.Inc()
		return cached, nil
	}
	metrics.MatcherCacheMisses.Inc()

	var cards []models.Card
	if err := m.db.WithContext(ctx).
		Where(column+" = ?", value).
		Order("name ASC").Order("id ASC").
		Find(&cards).Error; err != nil {
		return nil, fmt.Errorf("look up card by %s: %w", column, err)
	}
	m.cards.Add(key, cards)
	return cards, nil
}

func ids(cards []models.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}
