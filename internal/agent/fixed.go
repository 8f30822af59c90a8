package agent

import (
	"context"
	"fmt"
)

// Fixed is a scripted Adapter for tests: it returns pre-programmed
// results in call order, independent of whether the call is for a status
// or a verdict (callers select the right queue).
type Fixed struct {
	Statuses []InvokeStatus
	Verdicts []InvokeVerdict
	// ErrAt maps a call index to an error returned in place of that call's
	// queued value — used to script a mid-run invocation failure. Status and
	// verdict calls are counted separately but share this one map.
	ErrAt map[int]error

	statusCalls  int
	verdictCalls int
}

func (f *Fixed) InvokeForStatus(ctx context.Context, opts InvokeOptions) (InvokeStatus, error) {
	i := f.statusCalls
	f.statusCalls++
	if err, ok := f.ErrAt[i]; ok {
		return InvokeStatus{}, err
	}
	if i >= len(f.Statuses) {
		return InvokeStatus{}, fmt.Errorf("agent: fixed adapter exhausted status queue at call %d", i)
	}
	result := f.Statuses[i]
	fireSessionCallback(opts.OnSessionCreated, result.SessionID)
	return result, nil
}

func (f *Fixed) InvokeForVerdict(ctx context.Context, opts InvokeOptions) (InvokeVerdict, error) {
	i := f.verdictCalls
	f.verdictCalls++
	if err, ok := f.ErrAt[i]; ok {
		return InvokeVerdict{}, err
	}
	if i >= len(f.Verdicts) {
		return InvokeVerdict{}, fmt.Errorf("agent: fixed adapter exhausted verdict queue at call %d", i)
	}
	result := f.Verdicts[i]
	fireSessionCallback(opts.OnSessionCreated, result.SessionID)
	return result, nil
}
