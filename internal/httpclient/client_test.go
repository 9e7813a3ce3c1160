package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/resourcewatch/errors"
)

func TestValidateURL(t *testing.T) {
	c := New(Options{Timeout: time.Second})

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "https", url: "https://example.com/listing"},
		{name: "http", url: "http://example.com"},
		{name: "file scheme", url: "file:///etc/passwd", wantErr: "scheme"},
		{name: "credentials", url: "http://user:pw@example.com/", wantErr: "credentials"},
		{name: "localhost", url: "http://localhost:8080/", wantErr: "localhost"},
		{name: "sub localhost", url: "http://api.localhost/", wantErr: "localhost"},
		{name: "loopback", url: "http://127.0.0.1/", wantErr: "private"},
		{name: "rfc1918", url: "http://10.1.2.3/", wantErr: "private"},
		{name: "metadata", url: "http://169.254.169.254/latest", wantErr: "private"},
		{name: "ipv6 loopback", url: "http://[::1]/", wantErr: "private"},
		{name: "missing host", url: "http:///path", wantErr: "hostname"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ValidateURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsInvalidRequestError(err))
		})
	}
}

func TestIsPrivate(t *testing.T) {
	private := []string{"127.0.0.1", "10.0.0.1", "172.16.5.4", "192.168.1.1", "169.254.1.1",
		"0.0.0.0", "224.0.0.1", "100.64.0.1", "::1", "fe80::1", "fd00::1", "::ffff:10.0.0.1", "2001:db8::1"}
	for _, s := range private {
		assert.True(t, IsPrivate(netip.MustParseAddr(s)), s)
	}
	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"}
	for _, s := range public {
		assert.False(t, IsPrivate(netip.MustParseAddr(s)), s)
	}
}

func TestDoBlocksLoopbackServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = New(Options{Timeout: time.Second}).Do(req)
	assert.Error(t, err)

	resp, err := New(Options{Timeout: time.Second, AllowPrivate: true}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = New(Options{Timeout: time.Second, AllowPrivate: true, MaxRedirects: 2}).Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}
