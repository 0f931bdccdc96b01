package anthropic

// CachedSystem returns a single system block marked for prompt caching. The
// engine sends the same system prompt once per supplier, so a 5m TTL covers
// an organization run.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "5m"}}}
}

// Prompt builds a single-turn request.
func Prompt(model string, maxTokens int64, system, user string) MessageRequest {
	req := MessageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []Message{{Role: "user", Content: user}},
	}
	if system != "" {
		req.System = CachedSystem(system)
	}
	return req
}
