package priceapi

import (
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a client pointed at a fake base URL with httpmock
// intercepting its transport. Rate limiting is effectively disabled so tests
// stay fast.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(Config{
		ProviderID:  "testvendor",
		BaseURL:     "https://api.vendor.test/v1",
		APIKey:      "test-key",
		Timeout:     5 * time.Second,
		CacheTTL:    time.Minute,
		RateLimitMS: 1,
	}, nil)
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}
