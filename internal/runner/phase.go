package runner

// Phase is the lifecycle state of a training run.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseRunStep
	PhaseEval
	PhaseCheckpoint
	PhaseResume
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseRunStep:
		return "run_step"
	case PhaseEval:
		return "eval"
	case PhaseCheckpoint:
		return "checkpoint"
	case PhaseResume:
		return "resume"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
