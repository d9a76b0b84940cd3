package engine

import "strings"

// A user message with attached page context has two representations that
// must not collapse into one: the transcript shows a short marker ahead of
// what the user typed, while the model receives the full templated prompt.

// displayContent is the transcript form.
func displayContent(msg, pageContext string) string {
	if strings.TrimSpace(pageContext) == "" {
		return msg
	}
	return "(context attached)\n" + msg
}

// promptContent is the model-visible form sent on the wire.
func promptContent(msg, pageContext string) string {
	if strings.TrimSpace(pageContext) == "" {
		return msg
	}
	return "Here is the context(paragraph) that I have highlighted on the website for you to reference: " +
		pageContext + "\n\n Here is my query: " + msg
}
