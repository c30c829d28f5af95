package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/docqa-ai/docqa/tools/websearch/models"
	"github.com/docqa-ai/docqa/utils"
)

const defaultBaseURL = "https://google.serper.dev"

type Search struct {
	ApiKey  string
	BaseURL string // defaults to the serper API
}

// Discover runs a search. https://serper.dev/ docs. The answer box, when
// present, is returned as the direct answer.
func (s Search) Discover(ctx context.Context, q string, k int) (models.Response, error) {
	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	payload := map[string]any{"q": q, "num": k}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(ctx, "POST", base+"/search", strings.NewReader(string(body)))
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Response{}, fmt.Errorf("serper returned status: %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, err
	}

	var out models.Response
	if items, ok := raw["organic"].([]any); ok {
		for i, it := range items {
			if i >= k {
				break
			}
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			out.Results = append(out.Results, models.Result{
				Title: utils.Str(m["title"]), URL: utils.Str(m["link"]), Snippet: utils.Str(m["snippet"]),
			})
		}
	}
	if box, ok := raw["answerBox"].(map[string]any); ok {
		if answer := utils.Str(box["answer"]); answer != "" {
			out.Direct = answer
		} else if snippet := utils.Str(box["snippet"]); snippet != "" {
			out.Direct = snippet
		}
	}
	return out, nil
}
