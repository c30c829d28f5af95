package models

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Response bundles search hits with an optional provider-supplied direct
// answer. Direct is empty when the provider has no answer box.
type Response struct {
	Results []Result
	Direct  string
}
