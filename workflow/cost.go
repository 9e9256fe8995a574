package workflow

import (
	"fmt"
	"sync"
)

// ModelPricing gives the USD cost per 1M input/output tokens for a model.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the providers wired into package model and its anthropic/openai/google subpackages.
// Prices are illustrative; operators override via CostTracker.SetPricing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// LLMCall is one attributed agent invocation.
type LLMCall struct {
	TenantID     string
	ExecutionID  string
	NodeID       string
	AgentID      string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// CostTracker accumulates LLMCall records and their USD cost, scoped to one
// tenant. One CostTracker is typically shared by every execution of that
// tenant's workflows (spec.md §6: cost attributed to tenantId, executionId,
// nodeId, agentId).
type CostTracker struct {
	mu       sync.Mutex
	tenantID string
	pricing  map[string]ModelPricing
	calls    []LLMCall
	enabled  bool
}

// NewCostTracker constructs a CostTracker for tenantID, seeded with
// defaultModelPricing.
func NewCostTracker(tenantID string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{tenantID: tenantID, pricing: pricing, enabled: true}
}

// SetPricing overrides or adds a model's per-1M-token pricing.
func (ct *CostTracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Record attributes one agent call's token usage to (executionID, nodeID,
// agentID) and computes its USD cost from the model's pricing. Unknown
// models are recorded at zero cost rather than rejected, since an
// unpriced model should not abort an execution.
func (ct *CostTracker) Record(executionID, nodeID, agentID, model string, inputTokens, outputTokens int) LLMCall {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !ct.enabled {
		return LLMCall{}
	}

	pricing := ct.pricing[model]
	cost := (float64(inputTokens)/1_000_000)*pricing.InputPer1M + (float64(outputTokens)/1_000_000)*pricing.OutputPer1M

	call := LLMCall{
		TenantID:     ct.tenantID,
		ExecutionID:  executionID,
		NodeID:       nodeID,
		AgentID:      agentID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
	}
	ct.calls = append(ct.calls, call)
	return call
}

// TotalCost sums CostUSD across every recorded call.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	var total float64
	for _, c := range ct.calls {
		total += c.CostUSD
	}
	return total
}

// CostByExecution sums CostUSD per executionID, for per-run billing.
func (ct *CostTracker) CostByExecution() map[string]float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := map[string]float64{}
	for _, c := range ct.calls {
		out[c.ExecutionID] += c.CostUSD
	}
	return out
}

// Calls returns a copy of every call recorded so far.
func (ct *CostTracker) Calls() []LLMCall {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make([]LLMCall, len(ct.calls))
	copy(out, ct.calls)
	return out
}

// Disable stops recording new calls without discarding history already
// collected; Record becomes a no-op returning a zero LLMCall.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

func (ct *CostTracker) String() string {
	return fmt.Sprintf("CostTracker{tenant=%s, calls=%d, total=$%.4f}", ct.tenantID, len(ct.calls), ct.TotalCost())
}
