// Package pipeline drives taxpayer groups through the declaration form and
// keeps the checkpoint ledger in step, so an interrupted batch can resume
// without filing anything twice.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/classify"
	"github.com/efdreinf/reinf-cli/internal/config"
	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/portal"
	"github.com/efdreinf/reinf-cli/internal/store"
)

// NoteConfirmationNotObserved marks a group completed without seeing the
// portal's success banner.
const NoteConfirmationNotObserved = "confirmation not observed"

// PlannerOptions are the fixed parameters of every declaration in a run.
type PlannerOptions struct {
	Period              string
	EstablishmentID     string
	SignMethod          portal.SignMethod
	ConfirmationTimeout time.Duration
	ConfirmationPolicy  string
}

// PlannerOptionsFromConfig builds planner options from the loaded config.
func PlannerOptionsFromConfig(cfg *config.Config) (PlannerOptions, error) {
	method, err := portal.ParseSignMethod(cfg.Portal.SignMethod)
	if err != nil {
		return PlannerOptions{}, err
	}
	return PlannerOptions{
		Period:              cfg.Filing.Period,
		EstablishmentID:     cfg.Filing.EstablishmentCNPJ,
		SignMethod:          method,
		ConfirmationTimeout: cfg.Portal.ConfirmationTimeout,
		ConfirmationPolicy:  cfg.Batch.ConfirmationPolicy,
	}, nil
}

// Planner runs one group through the form state machine, consulting the
// ledger first so finished work is never repeated.
type Planner struct {
	store    store.Store
	page     portal.Automation
	reviewer Reviewer
	opts     PlannerOptions
}

// NewPlanner creates a Planner. A nil reviewer approves everything.
func NewPlanner(st store.Store, page portal.Automation, reviewer Reviewer, opts PlannerOptions) *Planner {
	if reviewer == nil {
		reviewer = AutoApprove{}
	}
	if opts.ConfirmationPolicy == "" {
		opts.ConfirmationPolicy = config.ConfirmationLenient
	}
	return &Planner{store: st, page: page, reviewer: reviewer, opts: opts}
}

// groupRun carries the per-group state of one Process call.
type groupRun struct {
	p    *Planner
	g    model.TaxpayerGroup
	id   string
	lctx context.Context
	log  *zap.Logger
}

// Process drives g to a terminal outcome. The returned error is always a
// *StorageError; every page-level problem is folded into the outcome.
// Ledger writes use a context detached from ctx so an interrupt never
// leaves a half-recorded step behind.
func (p *Planner) Process(ctx context.Context, g model.TaxpayerGroup) (model.GroupOutcome, error) {
	r := &groupRun{
		p:    p,
		g:    g,
		id:   g.IdentityID(),
		lctx: context.WithoutCancel(ctx),
		log: zap.L().With(
			zap.String("identity_id", g.IdentityID()),
			zap.Int("ordinal", g.Ordinal),
		),
	}

	complete, err := p.store.GroupIsComplete(r.lctx, r.id)
	if err != nil {
		return model.GroupFailed, &StorageError{Op: "group is complete", Err: err}
	}
	if complete {
		r.log.Info("planner: group already complete")
		return model.GroupSuccess, nil
	}
	skipped, err := p.store.GroupWasSkipped(r.lctx, r.id)
	if err != nil {
		return model.GroupFailed, &StorageError{Op: "group was skipped", Err: err}
	}
	if skipped {
		r.log.Info("planner: group previously skipped")
		return model.GroupSkipped, nil
	}

	r.log.Info("planner: processing group", zap.Int("dependents", len(g.Dependents)))
	return r.run(ctx)
}

func (r *groupRun) run(ctx context.Context) (model.GroupOutcome, error) {
	p := r.p

	// Initial fields and detail.
	if err := r.record(model.StageInitialFields, model.OutcomeStarting, ""); err != nil {
		return model.GroupFailed, err
	}
	res, err := p.page.FillInitialFields(ctx, portal.InitialFields{
		Period:          p.opts.Period,
		EstablishmentID: p.opts.EstablishmentID,
		HeadIdentityID:  r.id,
	})
	if cause := inspect(model.StageInitialFields, res, err, false); cause != nil {
		return r.fail(model.StageInitialFields, cause)
	}
	if err := r.record(model.StageInitialFields, model.OutcomeSuccess, ""); err != nil {
		return model.GroupFailed, err
	}

	res, err = p.page.AdvanceToDetail(ctx)
	if cause := inspect(model.StageAdvanceToDetail, res, err, true); cause != nil {
		var dup *DuplicateSubmissionError
		if errors.As(cause, &dup) {
			dup.IdentityID = r.id
			r.log.Warn("planner: duplicate submission, skipping group", zap.Strings("messages", dup.Messages))
			if err := r.record(model.StageDuplicateDetected, model.OutcomeSkipped, strings.Join(dup.Messages, "; ")); err != nil {
				return model.GroupFailed, err
			}
			return model.GroupSkipped, nil
		}
		return r.fail(model.StageAdvanceToDetail, cause)
	}
	if err := r.record(model.StageAdvanceToDetail, model.OutcomeSuccess, ""); err != nil {
		return model.GroupFailed, err
	}

	// Dependents: a failed dependent is logged and left for review.
	added, failed, err := r.addDependents(ctx)
	if err != nil {
		return model.GroupFailed, err
	}
	if err := r.record(model.StageDependentsAdded, model.OutcomeSuccess, fmt.Sprintf("added=%d failed=%d", added, failed)); err != nil {
		return model.GroupFailed, err
	}

	// Plan.
	if outcome, stop, err := r.addPlan(ctx); stop || err != nil {
		return outcome, err
	}

	// Dependent values.
	added, failed, err = r.addDependentValues(ctx)
	if err != nil {
		return model.GroupFailed, err
	}
	if err := r.record(model.StageDependentValues, model.OutcomeSuccess, fmt.Sprintf("added=%d failed=%d", added, failed)); err != nil {
		return model.GroupFailed, err
	}

	// Review.
	approved, err := p.reviewer.Review(ctx, r.g)
	if err != nil {
		return r.fail(model.StageReview, &TransientPageError{Stage: model.StageReview, Err: err})
	}
	if !approved {
		return r.fail(model.StageReview, &TransientPageError{Stage: model.StageReview, Err: eris.New("rejected by operator")})
	}
	if err := r.record(model.StageReview, model.OutcomeSuccess, ""); err != nil {
		return model.GroupFailed, err
	}

	// Submit. Past this point nothing is purged.
	res, err = p.page.Submit(ctx)
	if cause := inspect(model.StageSubmit, res, err, false); cause != nil {
		return r.fail(model.StageSubmit, cause)
	}
	if err := r.record(model.StageSubmit, model.OutcomeSuccess, ""); err != nil {
		return model.GroupFailed, err
	}

	res, err = p.page.Sign(ctx, p.opts.SignMethod)
	if cause := inspect(model.StageSign, res, err, false); cause != nil {
		return r.failAfterSubmit(model.StageSign, cause)
	}
	if err := r.record(model.StageSign, model.OutcomeSuccess, string(p.opts.SignMethod)); err != nil {
		return model.GroupFailed, err
	}

	// Confirmation.
	notes := ""
	res, err = p.page.AwaitConfirmation(ctx, p.opts.ConfirmationTimeout)
	if err != nil || !res.OK {
		if p.opts.ConfirmationPolicy == config.ConfirmationStrict {
			cause := &TransientPageError{Stage: model.StageConfirmation, Err: err, Messages: res.ScrapedErrors}
			return r.failAfterSubmit(model.StageConfirmation, cause)
		}
		r.log.Warn("planner: confirmation not observed, completing anyway", zap.Error(err))
		notes = NoteConfirmationNotObserved
	} else if err := r.record(model.StageConfirmation, model.OutcomeSuccess, ""); err != nil {
		return model.GroupFailed, err
	}
	if err := r.record(model.StageGroupComplete, model.OutcomeSuccess, notes); err != nil {
		return model.GroupFailed, err
	}
	r.log.Info("planner: group complete", zap.String("notes", notes))

	// Navigation.
	res, err = p.page.AdvanceToNext(ctx)
	if cause := inspect(model.StageAdvanceToNext, res, err, false); cause != nil {
		r.log.Error("planner: navigation to next group failed", zap.Error(cause))
		if err := r.record(model.StageAdvanceToNext, model.OutcomeError, cause.Error()); err != nil {
			return model.GroupFailed, err
		}
		// The filing went through; keep the group complete.
		if err := r.record(model.StageGroupComplete, model.OutcomeSuccess, "navigation failed"); err != nil {
			return model.GroupFailed, err
		}
		return model.GroupSuccessNavFailed, nil
	}
	return model.GroupSuccess, nil
}

func (r *groupRun) addDependents(ctx context.Context) (added, failed int, err error) {
	for _, d := range r.g.ParticipatingDependents() {
		done, err := r.p.store.IsSubEntityDone(r.lctx, model.SubEntityDependent, r.id, d.IdentityID)
		if err != nil {
			return added, failed, &StorageError{Op: "is dependent done", Err: err}
		}
		if done {
			continue
		}

		rel := group.MapRelationship(d.RelationshipLabel)
		entry := portal.DependentEntry{
			IdentityID:  d.IdentityID,
			DisplayName: d.DisplayName,
			Code:        string(rel.Code),
		}
		if rel.Code == model.RelationshipOther {
			entry.OtherDescription = rel.Description
		}

		res, perr := r.p.page.AddDependent(ctx, entry)
		cause := inspect(model.StageAddDependent, res, perr, false)
		outcome := model.OutcomeSuccess
		if cause != nil {
			outcome = model.OutcomeError
			failed++
			r.log.Warn("planner: dependent not added, continuing",
				zap.String("dependent", d.IdentityID),
				zap.Error(cause),
			)
		} else {
			added++
		}
		if err := r.recordSub(model.SubEntityRecord{
			Kind:        model.SubEntityDependent,
			Key:         d.IdentityID,
			Code:        string(rel.Code),
			Description: rel.Description,
			Amount:      d.Amount.String(),
			Outcome:     outcome,
		}); err != nil {
			return added, failed, err
		}
	}
	return added, failed, nil
}

// addPlan returns stop=true when the group must end with the given outcome.
func (r *groupRun) addPlan(ctx context.Context) (model.GroupOutcome, bool, error) {
	head := r.g.Head
	done, err := r.p.store.IsSubEntityDone(r.lctx, model.SubEntityPlan, r.id, head.OperatorID)
	if err != nil {
		return model.GroupFailed, true, &StorageError{Op: "is plan done", Err: err}
	}
	if !done {
		var cause error
		if head.OperatorID == "" {
			cause = &TransientPageError{Stage: model.StageAddPlan, Err: eris.New("no health-plan operator for head")}
		} else {
			res, perr := r.p.page.AddPlan(ctx, portal.PlanEntry{OperatorID: head.OperatorID, HeadAmount: head.Amount.String()})
			cause = inspect(model.StageAddPlan, res, perr, false)
		}
		if cause != nil {
			outcome, err := r.fail(model.StageAddPlan, cause)
			return outcome, true, err
		}
		if err := r.recordSub(model.SubEntityRecord{
			Kind:    model.SubEntityPlan,
			Key:     head.OperatorID,
			Amount:  head.Amount.String(),
			Outcome: model.OutcomeSuccess,
		}); err != nil {
			return model.GroupFailed, true, err
		}
	}
	if err := r.record(model.StagePlanAdded, model.OutcomeSuccess, head.OperatorID); err != nil {
		return model.GroupFailed, true, err
	}
	return "", false, nil
}

func (r *groupRun) addDependentValues(ctx context.Context) (added, failed int, err error) {
	for _, d := range r.g.ParticipatingDependents() {
		done, err := r.p.store.IsSubEntityDone(r.lctx, model.SubEntityDependentValue, r.id, d.IdentityID)
		if err != nil {
			return added, failed, &StorageError{Op: "is dependent value done", Err: err}
		}
		if done {
			continue
		}

		res, perr := r.p.page.AddDependentValue(ctx, portal.DependentValueEntry{
			DependentIdentityID: d.IdentityID,
			Amount:              d.Amount.String(),
		})
		cause := inspect(model.StageDependentValues, res, perr, false)
		outcome := model.OutcomeSuccess
		if cause != nil {
			outcome = model.OutcomeError
			failed++
			r.log.Warn("planner: dependent value not added, continuing",
				zap.String("dependent", d.IdentityID),
				zap.Error(cause),
			)
		} else {
			added++
		}
		if err := r.recordSub(model.SubEntityRecord{
			Kind:    model.SubEntityDependentValue,
			Key:     d.IdentityID,
			Amount:  d.Amount.String(),
			Outcome: outcome,
		}); err != nil {
			return added, failed, err
		}
	}
	return added, failed, nil
}

// fail records the error and purges the group's partial work.
func (r *groupRun) fail(stage string, cause error) (model.GroupOutcome, error) {
	r.log.Error("planner: group failed", zap.String("stage", stage), zap.Error(cause))
	if err := r.record(stage, model.OutcomeError, cause.Error()); err != nil {
		return model.GroupFailed, err
	}
	if err := r.p.store.PurgeGroup(r.lctx, r.id); err != nil {
		return model.GroupFailed, &StorageError{Op: "purge group", Err: err}
	}
	return model.GroupFailed, nil
}

// failAfterSubmit records the error and keeps everything for review.
func (r *groupRun) failAfterSubmit(stage string, cause error) (model.GroupOutcome, error) {
	pse := &PostSubmitError{Stage: stage, Err: cause}
	r.log.Error("planner: failure after submit, manual review required", zap.String("stage", stage), zap.Error(pse))
	if err := r.record(stage, model.OutcomeError, pse.Error()); err != nil {
		return model.GroupFailed, err
	}
	return model.GroupFailedNoRetry, nil
}

func (r *groupRun) record(stage string, outcome model.Outcome, notes string) error {
	err := r.p.store.RecordEvent(r.lctx, model.ProgressEvent{
		IdentityID:  r.id,
		DisplayName: r.g.Head.DisplayName,
		Stage:       stage,
		Outcome:     outcome,
		Notes:       notes,
	})
	if err != nil {
		return &StorageError{Op: "record event " + stage, Err: err}
	}
	return nil
}

func (r *groupRun) recordSub(rec model.SubEntityRecord) error {
	rec.IdentityID = r.id
	if err := r.p.store.RecordSubEntity(r.lctx, rec); err != nil {
		return &StorageError{Op: "record " + string(rec.Kind), Err: err}
	}
	return nil
}

// inspect turns a page result into nil or a typed error. Duplicate
// detection only applies where the portal reports it.
func inspect(stage string, res portal.Result, err error, detectDuplicate bool) error {
	// The duplicate signature wins whatever the driver reported as OK.
	if detectDuplicate && classify.Classify(res.ScrapedErrors) == classify.DuplicateSubmission {
		return &DuplicateSubmissionError{Messages: res.ScrapedErrors}
	}
	if err != nil {
		return &TransientPageError{Stage: stage, Err: err, Messages: res.ScrapedErrors}
	}
	if !res.OK {
		return &TransientPageError{Stage: stage, Err: eris.New("action not performed"), Messages: res.ScrapedErrors}
	}
	switch classify.Classify(res.ScrapedErrors) {
	case classify.DuplicateSubmission:
		return &TransientPageError{Stage: stage, Messages: res.ScrapedErrors}
	case classify.GenericError:
		return &TransientPageError{Stage: stage, Messages: classify.Errors(res.ScrapedErrors)}
	}
	return nil
}
