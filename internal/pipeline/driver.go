package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/store"
)

// Processor drives one group to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, g model.TaxpayerGroup) (model.GroupOutcome, error)
}

// DriverOptions bound a batch run.
type DriverOptions struct {
	// Limit stops after this many groups; zero means no limit.
	Limit int
	// From overrides the stored pointer when set.
	From *int
	// Pause is slept between groups.
	Pause time.Duration
}

// Driver walks the ordered group list from the checkpoint pointer,
// advancing the pointer after every group whatever its outcome. The one
// exception is a group that fails because the run was interrupted: its
// failure is already purged from the ledger, so the pointer stays put and
// the next run plans the group again.
type Driver struct {
	store     store.Store
	processor Processor
	opts      DriverOptions
}

// NewDriver creates a batch driver.
func NewDriver(st store.Store, p Processor, opts DriverOptions) *Driver {
	return &Driver{store: st, processor: p, opts: opts}
}

// Run processes groups in order. Once the batch starts only a *StorageError
// is returned; the summary is valid even then, covering the groups processed
// so far. A negative From is rejected before any group runs.
// Cancellation stops the batch between groups.
func (d *Driver) Run(ctx context.Context, groups []model.TaxpayerGroup) (*model.BatchSummary, error) {
	lctx := context.WithoutCancel(ctx)
	summary := &model.BatchSummary{Total: len(groups)}

	start, err := d.startOrdinal(lctx)
	if err != nil {
		return summary, err
	}
	summary.StartOrdinal = start

	log := zap.L().With(zap.Int("total", len(groups)), zap.Int("start", start))
	if start >= len(groups) {
		log.Info("driver: nothing to do, checkpoint is past the last group")
		return summary, nil
	}
	log.Info("driver: starting batch")

	for i := start; i < len(groups); i++ {
		if d.opts.Limit > 0 && summary.Processed >= d.opts.Limit {
			log.Info("driver: limit reached", zap.Int("limit", d.opts.Limit))
			break
		}
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		g := groups[i]
		outcome, err := d.processSafely(ctx, g)
		if err != nil {
			zap.L().Error("driver: aborting batch", zap.Int("ordinal", i), zap.Error(err))
			return summary, err
		}

		// A group cut short by an interrupt is retried on the next run.
		if ctx.Err() != nil && outcome == model.GroupFailed {
			zap.L().Warn("driver: interrupted during group, checkpoint not advanced",
				zap.Int("ordinal", i),
				zap.String("identity_id", g.IdentityID()),
			)
			summary.Interrupted = true
			break
		}

		if err := d.store.SetCheckpointOrdinal(lctx, i); err != nil {
			return summary, &StorageError{Op: "set checkpoint ordinal", Err: err}
		}
		tally(summary, g, outcome)

		zap.L().Info("driver: group done",
			zap.Int("ordinal", i),
			zap.String("identity_id", g.IdentityID()),
			zap.String("outcome", string(outcome)),
		)

		if d.opts.Pause > 0 && i < len(groups)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(d.opts.Pause):
			}
		}
	}

	log.Info("driver: batch complete",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("manual_review", len(summary.ManualReview)),
		zap.Bool("interrupted", summary.Interrupted),
	)
	return summary, nil
}

func (d *Driver) startOrdinal(ctx context.Context) (int, error) {
	if d.opts.From != nil {
		if *d.opts.From < 0 {
			return 0, eris.Errorf("driver: start ordinal must be >= 0, got %d", *d.opts.From)
		}
		return *d.opts.From, nil
	}
	ordinal, ok, err := d.store.GetCheckpointOrdinal(ctx)
	if err != nil {
		return 0, &StorageError{Op: "get checkpoint ordinal", Err: err}
	}
	if !ok {
		return 0, nil
	}
	return ordinal + 1, nil
}

// processSafely runs the processor, turning a panic into a failed group.
func (d *Driver) processSafely(ctx context.Context, g model.TaxpayerGroup) (outcome model.GroupOutcome, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		zap.L().Error("driver: unexpected failure in group",
			zap.String("identity_id", g.IdentityID()),
			zap.Any("panic", rec),
			zap.ByteString("stack", debug.Stack()),
		)
		outcome, err = model.GroupFailed, d.recordUnexpected(context.WithoutCancel(ctx), g, rec)
	}()
	return d.processor.Process(ctx, g)
}

func (d *Driver) recordUnexpected(ctx context.Context, g model.TaxpayerGroup, rec any) error {
	if err := d.store.RecordEvent(ctx, model.ProgressEvent{
		IdentityID:  g.IdentityID(),
		DisplayName: g.Head.DisplayName,
		Stage:       model.StageUnexpected,
		Outcome:     model.OutcomeError,
		Notes:       fmt.Sprint(rec),
	}); err != nil {
		return &StorageError{Op: "record unexpected failure", Err: err}
	}
	if err := d.store.PurgeGroup(ctx, g.IdentityID()); err != nil {
		return &StorageError{Op: "purge group", Err: err}
	}
	return nil
}

func tally(s *model.BatchSummary, g model.TaxpayerGroup, outcome model.GroupOutcome) {
	s.Processed++
	switch outcome {
	case model.GroupSuccess:
		s.Succeeded++
	case model.GroupSuccessNavFailed:
		s.Succeeded++
		s.NavigationFix = append(s.NavigationFix, g.IdentityID())
	case model.GroupSkipped:
		s.Skipped++
	case model.GroupFailedNoRetry:
		s.Failed++
		s.ManualReview = append(s.ManualReview, g.IdentityID())
	default:
		s.Failed++
	}
}
