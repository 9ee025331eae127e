package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/metrics"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// ImporterConfig wires an Importer.
type ImporterConfig struct {
	Sanitizer        *Sanitizer
	MatcherCacheSize int
	// RejectsDir receives <run-id>.csv; empty disables the file
	RejectsDir string
	// ProgressEvery logs progress every N source rows; 0 disables
	ProgressEvery int
	// Now is the run clock, also used to date rows without a date. Nil means time.Now.
	Now func() time.Time
}

// Importer runs price imports: Normalize -> Match -> Sanitize -> Persist per row, one row at
// a time, then reports. Per-record failures are counted and rejected, never fatal.
type Importer struct {
	store      *PriceStore
	normalizer *Normalizer
	matcher    *Matcher
	sanitizer  *Sanitizer
	rejectsDir string
	progress   int
	now        func() time.Time
	log        *zap.Logger
}

// NewImporter creates an importer on the store's database.
func NewImporter(store *PriceStore, cfg ImporterConfig, log *zap.Logger) (*Importer, error) {
	log = logging.OrNop(log).Named("importer")
	if cfg.Sanitizer == nil {
		return nil, errors.New("importer: sanitizer is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	matcher, err := NewMatcher(store.DB(), cfg.MatcherCacheSize, log)
	if err != nil {
		return nil, err
	}

	return &Importer{
		store:      store,
		normalizer: NewNormalizer(cfg.Now),
		matcher:    matcher,
		sanitizer:  cfg.Sanitizer,
		rejectsDir: cfg.RejectsDir,
		progress:   cfg.ProgressEvery,
		now:        cfg.Now,
		log:        log,
	}, nil
}

// Run imports every row of src. The returned error is non-nil only when the run ends Fatal
// (the source cannot be opened or read); the Result is returned in every case.
// Cancelling ctx stops the run between rows; the run still reports and ends Closed.
func (im *Importer) Run(ctx context.Context, src Source) (*Result, error) {
	res := newResult(uuid.NewString(), models.RunKindPrices, src.Name(), im.now())
	log := im.log.With(zap.String("run_id", res.RunID), zap.String("source", src.Name()))
	start := time.Now()
	// Each run resolves against the catalog as it is now
	im.matcher.Purge()

	reader, err := src.Open(ctx)
	if err != nil {
		return im.fail(ctx, res, log, start, err)
	}
	defer reader.Close()
	im.transition(res, log, models.RunStateReading)

	first := true
	for {
		if ctx.Err() != nil {
			res.Err = fmt.Sprintf("run canceled: %v", ctx.Err())
			log.Warn("Import canceled", zap.Error(ctx.Err()), zap.Int("processed", res.Processed))
			break
		}

		row, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if first {
			im.transition(res, log, models.RunStateProcessing)
			first = false
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, ErrFatalIO) {
				return im.fail(ctx, res, log, start, err)
			}
			im.rowFailed(res, log, err)
			continue
		}

		im.processRow(ctx, res, log, row, src.Name())

		if im.progress > 0 && res.Processed%im.progress == 0 {
			log.Info("Import progress",
				zap.Int("processed", res.Processed),
				zap.Int("updated", res.Updated),
				zap.Int("not_found", res.NotFound),
				zap.Int("errors", res.Errors))
		}
	}

	im.transition(res, log, models.RunStateReporting)
	finishRun(ctx, im.store, res, im.rejectsDir, log, start)
	return res, nil
}

// fail ends a run in the Fatal state.
func (im *Importer) fail(ctx context.Context, res *Result, log *zap.Logger, start time.Time, err error) (*Result, error) {
	if !errors.Is(err, ErrFatalIO) {
		err = fmt.Errorf("%w: %v", ErrFatalIO, err)
	}
	res.Err = err.Error()
	im.transition(res, log, models.RunStateFatal)
	finishRun(ctx, im.store, res, im.rejectsDir, log, start)
	return res, err
}

func (im *Importer) transition(res *Result, log *zap.Logger, to models.RunState) {
	log.Debug("Run state", zap.String("from", string(res.State)), zap.String("to", string(to)))
	res.State = to
}

// rowFailed accounts for a row the source itself could not produce
func (im *Importer) rowFailed(res *Result, log *zap.Logger, err error) {
	res.Processed++

	var rowErr *RowError
	line, ref := 0, ""
	if errors.As(err, &rowErr) {
		line, ref = rowErr.Line, rowErr.Ref
	}

	switch {
	case errors.Is(err, ErrNotFound):
		res.NotFound++
		res.reject(line, ref, models.RejectNotFound, err, nil)
		metrics.RecordsTotal.WithLabelValues("not_found").Inc()
	case errors.Is(err, ErrNoObservation):
		res.Skipped++
		res.reject(line, ref, models.RejectNoObservation, err, nil)
		metrics.RecordsTotal.WithLabelValues("skipped").Inc()
	case errors.Is(err, ErrRecordMalformed):
		res.Malformed++
		res.reject(line, ref, models.RejectMalformed, err, nil)
		metrics.RecordsTotal.WithLabelValues("malformed").Inc()
	default:
		res.Errors++
		res.reject(line, ref, models.RejectFetchFailure, err, nil)
		metrics.RecordsTotal.WithLabelValues("error").Inc()
		log.Warn("Source row failed", zap.Int("line", line), zap.String("ref", ref), zap.Error(err))
	}
}

func (im *Importer) processRow(ctx context.Context, res *Result, log *zap.Logger, row SourceRow, source string) {
	res.Processed++

	records, err := im.normalizer.Normalize(row, source)
	if err != nil {
		ref := im.normalizer.Ref(row)
		switch {
		case errors.Is(err, ErrNoObservation):
			res.Skipped++
			res.reject(row.Line, ref, models.RejectNoObservation, err, row.Fields)
			metrics.RecordsTotal.WithLabelValues("skipped").Inc()
		case errors.Is(err, ErrMissingRequiredField):
			res.Malformed++
			res.reject(row.Line, ref, models.RejectMissingField, err, row.Fields)
			metrics.RecordsTotal.WithLabelValues("malformed").Inc()
		default:
			res.Malformed++
			res.reject(row.Line, ref, models.RejectMalformed, err, row.Fields)
			metrics.RecordsTotal.WithLabelValues("malformed").Inc()
		}
		log.Debug("Row not normalized", zap.Int("line", row.Line), zap.String("ref", ref), zap.Error(err))
		return
	}

	for _, rec := range records {
		im.processRecord(ctx, res, log, rec, row.Fields, res.RunID)
	}
}

func (im *Importer) processRecord(ctx context.Context, res *Result, log *zap.Logger, rec PriceRecord, raw map[string]string, runID string) {
	match, err := im.matcher.Resolve(ctx, rec.CardRef())
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			res.NotFound++
			res.reject(rec.Line, rec.Ref(), models.RejectNotFound, err, raw)
			metrics.RecordsTotal.WithLabelValues("not_found").Inc()
		case errors.Is(err, ErrAmbiguous):
			res.Ambiguous++
			res.reject(rec.Line, rec.Ref(), models.RejectAmbiguous,
				fmt.Errorf("%w (candidates: %v)", err, match.Candidates), raw)
			metrics.RecordsTotal.WithLabelValues("ambiguous").Inc()
		default:
			if ctx.Err() != nil {
				return
			}
			res.Errors++
			res.reject(rec.Line, rec.Ref(), models.RejectLookupFailure, err, raw)
			metrics.RecordsTotal.WithLabelValues("error").Inc()
			log.Warn("Card lookup failed", zap.Int("line", rec.Line), zap.String("ref", rec.Ref()), zap.Error(err))
		}
		return
	}

	verdict := im.sanitizer.Check(match.Card.Name, rec.Price)
	switch verdict.Action {
	case ActionCapped:
		res.Capped++
		metrics.SanitizerActionsTotal.WithLabelValues("capped").Inc()
		log.Warn("Price capped",
			zap.String("card_id", match.Card.ID),
			zap.String("tier", verdict.Tier),
			zap.Stringer("price", verdict.Original),
			zap.Stringer("ceiling", verdict.Ceiling))
	case ActionRejected:
		res.Zeroed++
		metrics.SanitizerActionsTotal.WithLabelValues("zeroed").Inc()
		res.reject(rec.Line, rec.Ref(), models.RejectPriceRejected,
			fmt.Errorf("price %s above rejection threshold, stored as 0", verdict.Original.StringFixed(2)), raw)
		log.Warn("Price rejected",
			zap.String("card_id", match.Card.ID),
			zap.Stringer("price", verdict.Original))
	}

	ph := &models.PriceHistory{
		ProductID: match.Card.ID,
		Date:      rec.Date,
		Variant:   rec.Variant,
		Price:     verdict.Price,
		Volume:    rec.Volume,
		Source:    rec.Source,
		RunID:     runID,
	}
	value, err := im.store.UpsertAndRecompute(ctx, ph)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		res.Errors++
		res.reject(rec.Line, rec.Ref(), models.RejectWriteFailure, err, raw)
		metrics.RecordsTotal.WithLabelValues("error").Inc()
		log.Warn("Write failed", zap.String("card_id", match.Card.ID), zap.Error(err))
		return
	}

	res.Updated++
	outcome := "updated"
	switch verdict.Action {
	case ActionCapped:
		outcome = "capped"
	case ActionRejected:
		outcome = "zeroed"
	}
	metrics.RecordsTotal.WithLabelValues(outcome).Inc()
	log.Debug("Price stored",
		zap.String("card_id", match.Card.ID),
		zap.Stringer("confidence", match.Confidence),
		zap.String("date", ph.Date),
		zap.String("variant", string(ph.Variant)),
		zap.Stringer("price", ph.Price),
		zap.Stringer("current_value", value.Decimal))
}

// finishRun is the Reporting step shared by every run kind: persist the run and its rejects,
// write the rejects file, log the summary, update metrics. A Fatal run stays Fatal.
func finishRun(ctx context.Context, store *PriceStore, res *Result, rejectsDir string, log *zap.Logger, start time.Time) {
	// Report even when the run was canceled
	ctx = context.WithoutCancel(ctx)

	if res.State != models.RunStateFatal {
		res.State = models.RunStateClosed
	}
	res.Duration = time.Since(start)

	if rejectsDir != "" && len(res.Rejected) > 0 {
		path, err := WriteRejectsCSV(rejectsDir, res.RunID, res.Rejected)
		if err != nil {
			log.Error("Failed to write rejects file", zap.String("dir", rejectsDir), zap.Error(err))
		} else {
			res.RejectsFile = path
		}
	}

	if err := store.SaveRun(ctx, res.ImportRun(), res.Rejected); err != nil {
		log.Error("Failed to save import run", zap.Error(err))
	}

	metrics.ImportRunsTotal.WithLabelValues(string(res.Kind), string(res.State)).Inc()
	metrics.ImportDuration.WithLabelValues(string(res.Kind)).Observe(res.Duration.Seconds())
	if cards, history, err := store.CountRows(ctx); err == nil {
		metrics.CardDatabaseSize.Set(float64(cards))
		metrics.PriceHistoryRows.Set(float64(history))
	}

	if res.State == models.RunStateFatal {
		log.Error("Import failed", append(res.LogFields(), zap.String("error", res.Err))...)
		return
	}
	log.Info("Import complete", res.LogFields()...)
}
