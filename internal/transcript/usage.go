package transcript

// Usage is the per-message token accounting written by the host app.
type Usage struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	CacheRead   int64 `json:"cacheRead"`
	CacheWrite  int64 `json:"cacheWrite"`
	TotalTokens int64 `json:"totalTokens"`
	Cost        *Cost `json:"cost"`
}

// Cost is the per-message dollar cost breakdown.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// TokenStats aggregates usage over messages.
type TokenStats struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	InputCost        float64 `json:"input_cost"`
	OutputCost       float64 `json:"output_cost"`
	CacheReadCost    float64 `json:"cache_read_cost"`
	CacheWriteCost   float64 `json:"cache_write_cost"`
	TotalCost        float64 `json:"total_cost"`
	MessageCount     int     `json:"message_count"`
}

// Add accumulates one message's usage.
func (t *TokenStats) Add(u Usage) {
	t.InputTokens += u.Input
	t.OutputTokens += u.Output
	t.CacheReadTokens += u.CacheRead
	t.CacheWriteTokens += u.CacheWrite
	t.TotalTokens += u.TotalTokens
	t.MessageCount++
	if u.Cost != nil {
		t.InputCost += u.Cost.Input
		t.OutputCost += u.Cost.Output
		t.CacheReadCost += u.Cost.CacheRead
		t.CacheWriteCost += u.Cost.CacheWrite
		t.TotalCost += u.Cost.Total
	}
}

// Merge adds another aggregate into t.
func (t *TokenStats) Merge(o TokenStats) {
	t.InputTokens += o.InputTokens
	t.OutputTokens += o.OutputTokens
	t.CacheReadTokens += o.CacheReadTokens
	t.CacheWriteTokens += o.CacheWriteTokens
	t.TotalTokens += o.TotalTokens
	t.InputCost += o.InputCost
	t.OutputCost += o.OutputCost
	t.CacheReadCost += o.CacheReadCost
	t.CacheWriteCost += o.CacheWriteCost
	t.TotalCost += o.TotalCost
	t.MessageCount += o.MessageCount
}

// CacheHitRate is cache reads over all input tokens.
func (t TokenStats) CacheHitRate() float64 {
	total := t.InputTokens + t.CacheReadTokens
	if total == 0 {
		return 0
	}
	return float64(t.CacheReadTokens) / float64(total)
}
