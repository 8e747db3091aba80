// Package runner drives the training/evaluation lifecycle: it builds the
// object graph from resolved configuration through the module registry,
// spawns one worker per replica, and walks every worker through the same
// state machine in lock step:
//
//	INIT → (RUN_STEP ⇄ EVAL)* → CHECKPOINT → {RUN_STEP, TERMINATED}
//
// with RESUME as an alternate entry into INIT that restores Training State
// from a validated checkpoint before the loop begins.
//
// Workers never drift: the gradient allreduce in RUN_STEP and the barriers
// around EVAL and CHECKPOINT guarantee that no worker starts step N+1 before
// every worker finished step N, and that checkpoints are written only at
// globally agreed steps.
package runner
