package tokenizer

// HeuristicTokenizer estimates token counts as total characters divided by
// four. The ratio is a documented approximation, not an attempt at accuracy;
// callers that need real counts should register a TiktokenTokenizer for the
// model instead.
type HeuristicTokenizer struct {
	model string

	// charsPerToken is the divisor; defaults to 4.
	charsPerToken int
}

// NewHeuristicTokenizer creates a chars/4 estimator.
func NewHeuristicTokenizer(model string) *HeuristicTokenizer {
	return &HeuristicTokenizer{
		model:         model,
		charsPerToken: 4,
	}
}

// WithCharsPerToken overrides the default chars-per-token divisor.
func (h *HeuristicTokenizer) WithCharsPerToken(ratio int) *HeuristicTokenizer {
	if ratio > 0 {
		h.charsPerToken = ratio
	}
	return h
}

func (h *HeuristicTokenizer) CountTokens(text string) (int, error) {
	return len(text) / h.charsPerToken, nil
}

// CountMessages sums the content lengths of all messages and divides once,
// so the estimate is monotonic non-decreasing in total character count and
// an empty message list yields zero.
func (h *HeuristicTokenizer) CountMessages(messages []Message) (int, error) {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	return totalChars / h.charsPerToken, nil
}

func (h *HeuristicTokenizer) Name() string {
	return "heuristic"
}
