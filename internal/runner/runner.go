package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vk/perceptgo/internal/checkpoint"
	"github.com/vk/perceptgo/internal/collective"
	"github.com/vk/perceptgo/internal/compose"
	"github.com/vk/perceptgo/internal/config"
	"github.com/vk/perceptgo/internal/ctxlog"
	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/eval"
	"github.com/vk/perceptgo/internal/registry"
)

// Run is one assembled training run: W worker replicas moving through the
// step loop in lock-step, a shared scheduler, and the checkpoint store.
type Run struct {
	cfg       *ExperimentConfig
	logger    *slog.Logger
	runID     string
	taskHash  string
	seed      int64
	startStep int64

	replicas []*replica
	sched    Scheduler
	reducer  *collective.AllReducer

	// stepGate opens every iteration after worker 0 has published the stop
	// decision; syncEnter and syncExit bracket the eval and checkpoint
	// phases, during which only worker 0 does work.
	stepGate  *collective.Barrier
	syncEnter *collective.Barrier
	syncExit  *collective.Barrier

	store     *checkpoint.Store
	evaluator *eval.Evaluator
	valSets   []valSet

	stop       atomic.Bool
	globalStep atomic.Int64

	// phaseErr and lastRef are written by worker 0 between syncEnter and
	// syncExit; the barrier ordering makes them safe to read after syncExit.
	phaseErr error
	lastRef  string
}

// New assembles a fresh run from a resolved configuration tree. The registry
// must be sealed; checkpoints go under the configured directory of fsys.
func New(ctx context.Context, reg *registry.Registry, root config.Node, fsys billy.Filesystem) (*Run, error) {
	cfg, err := DecodeExperiment(root)
	if err != nil {
		return nil, err
	}
	return build(ctx, reg, cfg, fsys, cfg.Run.Seed)
}

// Resume reconstructs a run from a checkpoint record. An empty ref selects
// the latest record in the store. The record's task-set hash must match the
// current configuration; its seed overrides the configured one so the data
// pipeline replays the original sequence.
func Resume(ctx context.Context, reg *registry.Registry, root config.Node, fsys billy.Filesystem, ref string) (*Run, error) {
	cfg, err := DecodeExperiment(root)
	if err != nil {
		return nil, err
	}
	store := checkpoint.NewStore(fsys, cfg.Run.Checkpoint.Dir, cfg.Run.Checkpoint.KeepLatest)
	if ref == "" {
		ref, err = store.Latest()
		if err != nil {
			return nil, err
		}
		if ref == "" {
			return nil, fmt.Errorf("runner: no checkpoint to resume from in %q", cfg.Run.Checkpoint.Dir)
		}
	}
	rec, err := store.Read(ref)
	if err != nil {
		return nil, err
	}
	wantHash := checkpoint.HashTasks(taskSignatures(cfg))
	if err := checkpoint.Validate(rec.Manifest, wantHash); err != nil {
		return nil, err
	}

	r, err := build(ctx, reg, cfg, fsys, rec.State.Seed)
	if err != nil {
		return nil, err
	}
	r.runID = rec.Manifest.RunID
	r.startStep = rec.State.GlobalStep
	r.globalStep.Store(rec.State.GlobalStep)
	r.lastRef = ref
	for _, rep := range r.replicas {
		if err := loadParams(rep.params, rec.State.Params); err != nil {
			return nil, err
		}
		if err := rep.opt.LoadState(rec.State.Optimizer); err != nil {
			return nil, fmt.Errorf("runner: restoring optimizer state: %w", err)
		}
		rep.feeder.Seek(rec.State.GlobalStep)
	}
	r.logger.Info("Resumed from checkpoint.",
		"ref", ref, "run_id", r.runID, "global_step", r.startStep, "epoch", rec.State.Epoch)
	return r, nil
}

func build(ctx context.Context, reg *registry.Registry, cfg *ExperimentConfig, fsys billy.Filesystem, seed int64) (*Run, error) {
	logger := ctxlog.FromContext(ctx)

	sched, err := buildTyped[Scheduler](ctx, reg, registry.CategoryScheduler, cfg.Scheduler)
	if err != nil {
		return nil, err
	}

	replicas := make([]*replica, cfg.Run.Workers)
	for w := range replicas {
		rep, err := buildReplica(ctx, reg, cfg, seed, w)
		if err != nil {
			return nil, fmt.Errorf("runner: building worker %d: %w", w, err)
		}
		replicas[w] = rep
	}
	if err := broadcastParams(replicas); err != nil {
		return nil, err
	}

	evaluator, valSets, err := buildEvaluator(ctx, reg, cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Run.SyncTimeout
	n := cfg.Run.Workers
	r := &Run{
		cfg:       cfg,
		logger:    logger,
		runID:     uuid.NewString(),
		taskHash:  checkpoint.HashTasks(taskSignatures(cfg)),
		seed:      seed,
		replicas:  replicas,
		sched:     sched,
		reducer:   collective.NewAllReducer(n, timeout),
		stepGate:  collective.NewBarrier(n, timeout),
		syncEnter: collective.NewBarrier(n, timeout),
		syncExit:  collective.NewBarrier(n, timeout),
		store:     checkpoint.NewStore(fsys, cfg.Run.Checkpoint.Dir, cfg.Run.Checkpoint.KeepLatest),
		evaluator: evaluator,
		valSets:   valSets,
	}
	return r, nil
}

// RunID identifies this run in logs, reports and checkpoints.
func (r *Run) RunID() string { return r.runID }

// GlobalStep reports the last completed optimizer step.
func (r *Run) GlobalStep() int64 { return r.globalStep.Load() }

// LatestCheckpoint returns the reference of the most recent record this run
// wrote, or "" when none has been written yet.
func (r *Run) LatestCheckpoint() string { return r.lastRef }

// Run drives every worker to completion. Cancel ctx for a graceful stop: the
// workers finish the step in flight, write a final checkpoint and exit nil.
// Any worker error aborts the whole group.
func (r *Run) Run(ctx context.Context) error {
	r.logger.Info("Run starting.",
		"run_id", r.runID,
		"workers", r.cfg.Run.Workers,
		"tasks", len(r.cfg.Tasks),
		"max_steps", r.cfg.Run.MaxSteps,
		"start_step", r.startStep)

	// Internal aborts cancel ictx so peers blocked on a barrier unwind
	// immediately. A parent cancellation deliberately does NOT reach the
	// barriers: it drains through the collective stop decision instead, so
	// every worker exits at the same step boundary.
	ictx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	var g errgroup.Group
	for _, rep := range r.replicas {
		rep := rep
		g.Go(func() error {
			err := r.workerLoop(ctx, ictx, rep)
			if err != nil {
				abort()
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("Run failed.",
			"error", err,
			"run_id", r.runID,
			"last_completed_step", r.globalStep.Load(),
			"latest_checkpoint", r.lastRef)
		return err
	}
	r.logger.Info("Run complete.",
		"run_id", r.runID,
		"global_step", r.globalStep.Load(),
		"latest_checkpoint", r.lastRef)
	return nil
}

func (r *Run) workerLoop(ctx, ictx context.Context, rep *replica) error {
	step := r.startStep
	rep.lastCkptStep = r.startStep
	for {
		if rep.worker == 0 && (ctx.Err() != nil || step >= r.cfg.Run.MaxSteps) {
			r.stop.Store(true)
		}
		if err := r.stepGate.Await(ictx); err != nil {
			return err
		}
		if r.stop.Load() {
			break
		}

		if err := r.trainStep(ictx, rep, step); err != nil {
			return err
		}
		step++
		if rep.worker == 0 {
			r.globalStep.Store(step)
		}

		if iv := r.cfg.Run.EvalInterval; iv > 0 && step%iv == 0 {
			if err := r.evalPhase(ictx, rep, step); err != nil {
				return err
			}
		}
		if iv := r.cfg.Run.Checkpoint.Interval; iv > 0 && step%iv == 0 {
			if err := r.checkpointPhase(ictx, rep, step); err != nil {
				return err
			}
		}
	}

	if step > rep.lastCkptStep {
		if err := r.checkpointPhase(ictx, rep, step); err != nil {
			return err
		}
	}
	return nil
}

// trainStep runs one optimizer step on this replica. Non-finite losses or
// gradients are retried on fresh batches before the allreduce, so replicas
// never disagree on the number of collective rounds. Exhausting the retry
// budget is fatal.
func (r *Run) trainStep(ictx context.Context, rep *replica, step int64) error {
	var res *compose.StepResult
	attempts := 0
	for res == nil {
		attempts++
		batch, err := rep.feeder.Next()
		if err != nil {
			return err
		}
		rep.model.ZeroGrad()
		preds, err := rep.model.Forward(batch)
		if err != nil {
			return err
		}
		sr, err := rep.model.ComputeLoss(preds, batch)
		if err != nil {
			if !errors.Is(err, compose.ErrNonFiniteLoss) {
				return err
			}
			if attempts > r.cfg.Run.RetryLimit {
				return &NumericInstabilityError{Step: step, Attempts: attempts, Err: err}
			}
			r.logger.Warn("Retrying step with a fresh batch.",
				"step", step, "worker", rep.worker, "attempt", attempts, "cause", err)
			continue
		}
		if err := rep.model.Backward(batch, sr); err != nil {
			return err
		}
		if !gradsFinite(rep.params) {
			if attempts > r.cfg.Run.RetryLimit {
				return &NumericInstabilityError{Step: step, Attempts: attempts,
					Err: errors.New("non-finite gradient")}
			}
			r.logger.Warn("Retrying step with a fresh batch.",
				"step", step, "worker", rep.worker, "attempt", attempts, "cause", "non-finite gradient")
			continue
		}
		res = sr
	}

	sum, err := r.reducer.Sum(ictx, rep.worker, flattenGrads(rep.params))
	if err != nil {
		return err
	}
	applyReduced(rep.params, sum, 1.0/float64(len(r.replicas)))
	if clip := r.cfg.Run.GradClip; clip > 0 {
		clipGrads(rep.params, clip)
	}
	rep.opt.Step(rep.params, r.sched.LR(step))

	if rep.worker == 0 {
		r.logger.Debug("Step complete.",
			"step", step+1, "loss", res.Total, "lr", r.sched.LR(step), "epoch", rep.feeder.Epoch())
	}
	return nil
}

// evalPhase runs evaluation on worker 0 while the others hold at the
// barriers, so no worker trains against half-updated parameters.
func (r *Run) evalPhase(ictx context.Context, rep *replica, step int64) error {
	if r.evaluator == nil {
		return nil
	}
	if err := r.syncEnter.Await(ictx); err != nil {
		return err
	}
	if rep.worker == 0 {
		r.phaseErr = r.runEval(rep, step)
	}
	if err := r.syncExit.Await(ictx); err != nil {
		return err
	}
	return r.phaseErr
}

func (r *Run) runEval(rep *replica, step int64) error {
	ev := r.evaluator
	ev.Reset()
	for _, vs := range r.valSets {
		n := vs.dataset.Len()
		for from := 0; from < n; from += vs.batchSize {
			to := from + vs.batchSize
			if to > n {
				to = n
			}
			samples := make([]data.Sample, 0, to-from)
			for i := from; i < to; i++ {
				s, err := vs.dataset.Sample(i)
				if err != nil {
					return fmt.Errorf("runner: eval task %q sample %d: %w", vs.taskID, i, err)
				}
				samples = append(samples, s)
			}
			tb, err := data.Collate(vs.taskID, samples)
			if err != nil {
				return err
			}
			batch, err := data.Assemble([]string{vs.taskID}, map[string]*data.TaskBatch{vs.taskID: tb})
			if err != nil {
				return err
			}
			preds, err := rep.model.Forward(batch)
			if err != nil {
				return err
			}
			if p, ok := preds[vs.taskID]; ok {
				if err := ev.Observe(vs.taskID, p, tb); err != nil {
					return err
				}
			}
		}
	}
	report := ev.Report(r.runID, step)
	report.Log(r.logger)
	return nil
}

// checkpointPhase is the collective write protocol: everyone arrives, worker
// 0 persists its replica's state and publishes the outcome, everyone leaves
// with the same result. A storage failure fails the whole group.
func (r *Run) checkpointPhase(ictx context.Context, rep *replica, step int64) error {
	if err := r.syncEnter.Await(ictx); err != nil {
		return err
	}
	if rep.worker == 0 {
		ref, err := r.writeCheckpoint(rep, step)
		r.phaseErr = err
		if err == nil {
			r.lastRef = ref
			r.logger.Info("Checkpoint written.", "ref", ref, "global_step", step)
		}
	}
	if err := r.syncExit.Await(ictx); err != nil {
		return err
	}
	if r.phaseErr != nil {
		return r.phaseErr
	}
	rep.lastCkptStep = step
	return nil
}

func (r *Run) writeCheckpoint(rep *replica, step int64) (string, error) {
	rec := &checkpoint.Record{
		Manifest: checkpoint.Manifest{
			SchemaVersion: checkpoint.SchemaVersion,
			TaskHash:      r.taskHash,
			GlobalStep:    step,
			RunID:         r.runID,
			CreatedAt:     time.Now().UTC(),
		},
		State: checkpoint.State{
			Epoch:      rep.feeder.Epoch(),
			GlobalStep: step,
			Seed:       r.seed,
			Params:     snapshotParams(rep.params),
			Optimizer:  rep.opt.State(),
			Scheduler:  map[string]float64{"step": float64(step)},
		},
	}
	return r.store.Write(rec)
}
