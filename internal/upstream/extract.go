package upstream

// Completion is the subset of a chat completion document (or one streamed
// chunk of it) that the gateway reads.
type Completion struct {
	Choices []Choice `json:"choices"`
}

// Choice holds either an incremental delta or a full message; upstreams are
// not consistent about which one they send per chunk.
type Choice struct {
	Delta   *Content `json:"delta,omitempty"`
	Message *Content `json:"message,omitempty"`
}

// Content carries generated text.
type Content struct {
	Content string `json:"content"`
}

// Extractor pulls the text increment out of one decoded chunk. It reports
// false when the chunk carries nothing it recognises.
type Extractor func(c *Completion) (string, bool)

// DefaultExtractors returns the strategies tried, in order, for every
// streamed chunk.
func DefaultExtractors() []Extractor {
	return []Extractor{DeltaContent, MessageContent}
}

// DeltaContent reads choices[0].delta.content.
func DeltaContent(c *Completion) (string, bool) {
	if len(c.Choices) == 0 || c.Choices[0].Delta == nil {
		return "", false
	}
	text := c.Choices[0].Delta.Content
	return text, text != ""
}

// MessageContent reads choices[0].message.content.
func MessageContent(c *Completion) (string, bool) {
	if len(c.Choices) == 0 || c.Choices[0].Message == nil {
		return "", false
	}
	text := c.Choices[0].Message.Content
	return text, text != ""
}

// extract runs exts in order and returns the first hit.
func extract(c *Completion, exts []Extractor) (string, bool) {
	for _, ext := range exts {
		if text, ok := ext(c); ok {
			return text, true
		}
	}
	return "", false
}
