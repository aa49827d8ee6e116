package sweep

const (
	WorkflowName = "stream_sweep"
	WorkflowID   = "stream_sweep"
	ActivityPass = "stream_sweep_pass"
)

// Params fixes the cadence at workflow start so the loop stays
// deterministic across replays; changing the env requires a new run.
type Params struct {
	IntervalSeconds int `json:"interval_seconds"`
}

type PassResult struct {
	Reclaimed int `json:"reclaimed"`
}
