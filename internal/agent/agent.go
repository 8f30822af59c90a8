// Package agent defines the contract fivex uses to invoke author and
// reviewer agents, and a concrete adapter that drives the `claude` CLI.
// The orchestrator never imports an LLM SDK directly — it only holds an
// Adapter.
package agent

import (
	"context"
	"time"

	"github.com/fivexhq/fivex/internal/protocol"
)

// InvokeOptions parameterizes a single agent call. Model is a
// "provider/model" string; Timeout of zero means no deadline. SessionID,
// when non-empty, continues a prior session rather than starting fresh.
type InvokeOptions struct {
	Prompt         string
	Model          string
	Timeout        time.Duration
	Workdir        string
	LogPath        string
	Quiet          bool
	ShowReasoning  bool
	SessionTitle   string
	SessionID      string
	OnSessionCreated func(sessionID string)
}

// Usage carries the accounting fields common to both result types.
// CostUSD is a pointer so a reported zero cost is distinguishable from
// "not reported".
type Usage struct {
	Duration  time.Duration
	SessionID string
	TokensIn  int
	TokensOut int
	CostUSD   *float64
}

// InvokeStatus is the result of an author invocation.
type InvokeStatus struct {
	Usage
	Status protocol.AuthorStatus
}

// InvokeVerdict is the result of a reviewer invocation.
type InvokeVerdict struct {
	Usage
	Verdict protocol.ReviewerVerdict
}

// Adapter is the only way the orchestrator talks to an agent backend.
// Implementations must treat ctx as the sole cancellation point: a
// canceled context must abort the in-flight call promptly.
type Adapter interface {
	InvokeForStatus(ctx context.Context, opts InvokeOptions) (InvokeStatus, error)
	InvokeForVerdict(ctx context.Context, opts InvokeOptions) (InvokeVerdict, error)
}

// fireSessionCallback invokes cb best-effort: a panic or nothing at all
// must never fail the surrounding invocation.
func fireSessionCallback(cb func(string), sessionID string) {
	if cb == nil || sessionID == "" {
		return
	}
	defer func() { recover() }() //nolint:errcheck
	cb(sessionID)
}
