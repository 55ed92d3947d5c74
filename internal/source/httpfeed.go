package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
)

// HTTPFeed queries a JSON reputation API. The endpoint receives the
// indicator value and kind as query parameters and answers with a verdict
// plus optional attribution context.
type HTTPFeed struct {
	base
	endpoint string
	apiKey   string
	client   *http.Client
}

type feedResponse struct {
	Verdict         string   `json:"verdict"`
	Confidence      float64  `json:"confidence"`
	Actors          []string `json:"actors,omitempty"`
	MalwareFamilies []string `json:"malware_families,omitempty"`
	Campaigns       []string `json:"campaigns,omitempty"`
	KillChainPhases []string `json:"kill_chain_phases,omitempty"`
	Country         string   `json:"country,omitempty"`
}

func NewHTTPFeed(name, endpoint, apiKey string, reliability float64, timeout time.Duration, deepOnly bool, client *http.Client) *HTTPFeed {
	return &HTTPFeed{
		base:     base{name: name, typ: "http", reliability: reliability, timeout: timeout, deepOnly: deepOnly},
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
	}
}

func (s *HTTPFeed) Query(ctx context.Context, ind indicator.Indicator) (intel.Finding, error) {
	started := time.Now()

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return intel.Finding{}, fmt.Errorf("bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("indicator", ind.Value)
	q.Set("kind", string(ind.Kind))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return intel.Finding{}, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return intel.Finding{}, ErrSourceTimeout
		}
		return intel.Finding{}, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return intel.Finding{}, ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return intel.Finding{}, fmt.Errorf("bad status: %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return intel.Finding{}, fmt.Errorf("decode response: %w", err)
	}

	f := s.finding(normalizeVerdict(body.Verdict), clamp01(body.Confidence), started)
	f.ActorIDs = body.Actors
	f.MalwareFamilies = body.MalwareFamilies
	f.CampaignIDs = body.Campaigns
	f.KillChainPhases = body.KillChainPhases
	if body.Country != "" {
		f.Countries = []string{body.Country}
	}
	return f, nil
}

func normalizeVerdict(v string) intel.Verdict {
	switch v {
	case "malicious", "bad", "block":
		return intel.VerdictMalicious
	case "suspicious", "warn":
		return intel.VerdictSuspicious
	case "clean", "benign", "ok":
		return intel.VerdictClean
	default:
		return intel.VerdictUnknown
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
