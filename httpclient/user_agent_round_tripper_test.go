/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserAgentRoundTripper_RoundTrip(t *testing.T) {
	var mu sync.Mutex
	var receivedUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		receivedUserAgent = r.Header.Get("User-Agent")
		mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	lastUserAgent := func() string {
		mu.Lock()
		defer mu.Unlock()
		return receivedUserAgent
	}

	doRequest := func(t *testing.T, client *http.Client, userAgent string) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	t.Run("set user agent if empty", func(t *testing.T) {
		client := &http.Client{Transport: NewUserAgentRoundTripper(http.DefaultTransport, "pacer-client/1.2.3")}

		doRequest(t, client, "")
		require.Equal(t, "pacer-client/1.2.3", lastUserAgent())

		doRequest(t, client, "custom-agent/0.1")
		require.Equal(t, "custom-agent/0.1", lastUserAgent())
	})

	t.Run("append user agent", func(t *testing.T) {
		client := &http.Client{Transport: NewUserAgentRoundTripperWithOpts(
			http.DefaultTransport, "pacer-client/1.2.3", UserAgentRoundTripperOpts{
				UpdateStrategy: UserAgentUpdateStrategyAppend,
			})}

		doRequest(t, client, "custom-agent/0.1")
		require.Equal(t, "custom-agent/0.1 pacer-client/1.2.3", lastUserAgent())
	})

	t.Run("prepend user agent", func(t *testing.T) {
		client := &http.Client{Transport: NewUserAgentRoundTripperWithOpts(
			http.DefaultTransport, "pacer-client/1.2.3", UserAgentRoundTripperOpts{
				UpdateStrategy: UserAgentUpdateStrategyPrepend,
			})}

		doRequest(t, client, "custom-agent/0.1")
		require.Equal(t, "pacer-client/1.2.3 custom-agent/0.1", lastUserAgent())
	})
}
