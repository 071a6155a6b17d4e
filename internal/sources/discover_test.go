package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverer_Discover(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head>
<link rel="alternate" type="application/rss+xml" href="/feed/">
</head><body>
<a href="/category/science/rss">Science RSS</a>
<a href="/about">About</a>
<a href="/broken.xml">Broken</a>
<a href="%s/feed">Same feed, absolute</a>
</body></html>`, srv.URL)
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testFeed)
	})
	mux.HandleFunc("/category/science/rss", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Science</title></channel></rss>`)
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not a feed")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	feeds, err := NewDiscoverer(srv.Client(), 5).Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "Good News Network", feeds[0].Name)
	assert.Equal(t, srv.URL+"/feed", feeds[0].URL)
	assert.Equal(t, "Science", feeds[1].Name)
}

func TestDiscoverer_SiteIsFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testFeed)
	}))
	defer srv.Close()

	feeds, err := NewDiscoverer(srv.Client(), 0).Discover(context.Background(), srv.URL+"/rss")
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "Good News Network", feeds[0].Name)
}

func TestDiscoverer_InvalidURL(t *testing.T) {
	_, err := NewDiscoverer(nil, 0).Discover(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestFeedID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "https://www.goodnewsnetwork.org/feed/", want: "goodnewsnetwork-org-feed"},
		{raw: "https://example.com/category/science/rss.xml", want: "example-com-category-science-rss"},
		{raw: "https://Example.com", want: "example-com"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, feedID(u))
	}
}
