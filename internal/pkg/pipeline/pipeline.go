// Package pipeline orchestrates one run: resolve the fetch window, fetch and
// normalize through the selected adapter, dispatch to the selected sink, and
// aggregate the outcome.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/sink"
	"github.com/openclimatefix/solar-consumer/internal/pkg/source"
)

// State tracks run progress. Failed is terminal and reachable from any step.
type State string

const (
	StateConfigured     State = "configured"
	StateWindowResolved State = "window-resolved"
	StateFetching       State = "fetching"
	StateNormalizing    State = "normalizing"
	StateWriting        State = "writing"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

const defaultBatchSize = 500

// ErrTooManyFailures is returned when the ratio of failed entities exceeds
// the configured threshold.
var ErrTooManyFailures = fmt.Errorf("too many entities failed to fetch")

// Runner executes one fetch -> normalize -> write pass.
type Runner struct {
	req     model.RunRequest
	adapter source.Adapter
	sink    sink.Sink

	batchSize int
	now       func() time.Time
	state     State
}

func New(req model.RunRequest, adapter source.Adapter, snk sink.Sink) *Runner {
	return &Runner{
		req:       req,
		adapter:   adapter,
		sink:      snk,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		state:     StateConfigured,
	}
}

// Run executes the pipeline. Partial progress is never lost: per-entity fetch
// failures and per-record validation failures are reported in the summary,
// and writes are committed in small batches so a late failure keeps earlier
// batches.
func (r *Runner) Run(ctx context.Context) (model.RunSummary, error) {
	logger := zap.L().With(
		zap.String("source", string(r.adapter.Source())),
		zap.String("country", r.req.Country),
		zap.String("kind", string(r.req.DataKind)),
		zap.String("save_method", string(r.req.SaveMethod)),
	)

	summary := model.RunSummary{Source: r.adapter.Source()}
	fail := func(err error) (model.RunSummary, error) {
		r.state = StateFailed
		summary.State = string(StateFailed)
		return summary, err
	}

	now := r.now()
	win := r.adapter.Window(now, r.req)
	r.state = StateWindowResolved
	logger.Info("resolved fetch window", zap.Time("start", win.Start), zap.Time("end", win.End))

	r.state = StateFetching
	result, err := r.adapter.Fetch(ctx, r.req, win)
	if err != nil {
		return fail(err)
	}
	summary.Fetched = len(result.Records)
	summary.FailedEntities = lo.Map(result.Failed, func(f source.EntityFailure, _ int) string {
		return f.EntityID
	})
	for _, f := range result.Failed {
		logger.Warn("entity fetch failed", zap.String("entity_id", f.EntityID), zap.Error(f.Err))
	}

	if err := r.checkFailureRatio(result); err != nil {
		return fail(err)
	}

	r.state = StateNormalizing
	records := make([]model.ForecastRecord, 0, len(result.Records))
	for _, rec := range result.Records {
		if verr := rec.Validate(); verr != nil {
			summary.Dropped++
			logger.Warn("dropping record failing validation",
				zap.String("entity_id", rec.EntityID),
				zap.Error(verr))
			continue
		}
		records = append(records, rec)
	}

	// Sinks that assume append-only ordering need each entity's series in
	// non-decreasing target time.
	slices.SortStableFunc(records, func(a, b model.ForecastRecord) int {
		if c := strings.Compare(a.EntityID, b.EntityID); c != 0 {
			return c
		}
		return a.TargetTime.Compare(b.TargetTime)
	})

	if len(records) == 0 {
		logger.Warn("no records to write")
		r.state = StateDone
		summary.State = string(StateDone)
		return summary, nil
	}

	r.state = StateWriting
	for batch := range slices.Chunk(records, r.batchSize) {
		report, err := r.sink.Write(ctx, batch)
		summary.Report.Merge(report)
		if err != nil {
			logger.Error("sink write failed, keeping committed batches",
				zap.Int("committed", summary.Report.Written+summary.Report.Updated),
				zap.Error(err))
			return fail(err)
		}
	}

	r.state = StateDone
	summary.State = string(StateDone)
	logger.Info("run complete",
		zap.Int("fetched", summary.Fetched),
		zap.Int("dropped", summary.Dropped),
		zap.Int("written", summary.Report.Written),
		zap.Int("updated", summary.Report.Updated),
		zap.Int("skipped", summary.Report.Skipped),
		zap.Int("failed", summary.Report.Failed),
		zap.Strings("failed_entities", summary.FailedEntities))
	return summary, nil
}

// State returns the current run state.
func (r *Runner) State() State { return r.state }

func (r *Runner) checkFailureRatio(result source.Result) error {
	failed := len(result.Failed)
	if failed == 0 {
		return nil
	}

	succeeded := lo.Uniq(lo.Map(result.Records, func(rec model.ForecastRecord, _ int) string {
		return rec.EntityID
	}))
	total := failed + len(succeeded)

	ratio := float64(failed) / float64(total)
	if ratio > r.req.FailureThreshold {
		entities := lo.Map(result.Failed, func(f source.EntityFailure, _ int) string { return f.EntityID })
		return fmt.Errorf("%w: %d of %d entities (%s)", ErrTooManyFailures, failed, total, strings.Join(entities, ", "))
	}
	return nil
}
