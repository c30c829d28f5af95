package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/docqa-ai/docqa/tools/websearch/models"
	"github.com/docqa-ai/docqa/utils"
)

const defaultBaseURL = "https://api.search.brave.com"

type Search struct {
	ApiKey  string
	BaseURL string // defaults to the brave API
}

// Discover runs a search.
// https://api.search.brave.com/app/documentation/web-search
// Brave has no answer box, so the direct answer is always empty.
func (s Search) Discover(ctx context.Context, q string, k int) (models.Response, error) {
	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	url := fmt.Sprintf("%s/res/v1/web/search?q=%s&count=%d", base, utils.UrlQuery(q), k)
	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Response{}, fmt.Errorf("brave returned status: %d", resp.StatusCode)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, err
	}
	var out models.Response
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out.Results = append(out.Results, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}
