package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// httpClient is the shared transport for provider gateways. Each gateway
// exposes a small JSON API behind a success/data/error envelope.
type httpClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
	log     zerolog.Logger
}

// envelope is the standard gateway response format.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

func newHTTPClient(baseURL string, headers map[string]string, log zerolog.Logger) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: headers,
		log:     log,
	}
}

// get fetches an endpoint and unmarshals the envelope data into out.
// Transport and gateway-level failures surface as PROVIDER_UNAVAILABLE.
func (c *httpClient) get(ctx context.Context, source domain.ProviderSource, endpoint string, query url.Values, out interface{}) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.NewProviderUnavailable(source.ShortName(), err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewProviderUnavailable(source.ShortName(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewProviderUnavailable(source.ShortName(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewProviderUnavailable(source.ShortName(),
			fmt.Errorf("gateway returned HTTP %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.NewProviderUnavailable(source.ShortName(), fmt.Errorf("failed to parse response: %w", err))
	}
	if !env.Success {
		errMsg := "unknown error"
		if env.Error != nil {
			errMsg = *env.Error
		}
		return domain.NewProviderUnavailable(source.ShortName(), fmt.Errorf("gateway error: %s", errMsg))
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return domain.NewProviderUnavailable(source.ShortName(), fmt.Errorf("failed to parse data: %w", err))
	}
	return nil
}
