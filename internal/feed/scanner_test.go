package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	collyfetcher "github.com/JakeFAU/release-notifier/internal/fetcher/colly"
	"github.com/JakeFAU/release-notifier/internal/hash/sha256"
)

const feedPage = `<html><body>
<div class="list_main_update"><ul>
  <li><a href="/releases/item/alpha/ep-2"><img src="/img/a.jpg"><h2> Alpha 2 </h2></a></li>
  <li><a href="/releases/item/beta/ep-9"><img src="/img/b.jpg"><h2>Beta 9</h2></a></li>
  <li><a href="/releases/item/alpha/ep-2"><h2>Alpha 2 again</h2></a></li>
  <li><span>no link</span></li>
</ul></div>
<ul><li><a href="/elsewhere">outside the feed</a></li></ul>
</body></html>`

type stubFetcher struct {
	body string
	err  error
	urls []string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	return []byte(f.body), f.err
}

func TestScanDeduplicatesWithinFetch(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{body: feedPage}
	s, err := NewScanner("https://site.test", "/", fetcher, sha256.New(), zap.NewNop())
	require.NoError(t, err)

	entries, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://site.test/"}, fetcher.urls)
	require.Len(t, entries, 2)

	require.Equal(t, "https://site.test/releases/item/alpha/ep-2", entries[0].URL)
	require.Equal(t, "Alpha 2", entries[0].Title)
	require.Equal(t, "https://site.test/img/a.jpg", entries[0].Image)
	require.Equal(t, sha256.New().HashURL(entries[0].URL), entries[0].Hash)
	require.Equal(t, "https://site.test/releases/item/beta/ep-9", entries[1].URL)
	require.NotEqual(t, entries[0].Hash, entries[1].Hash)
}

func TestScanResolvesImagesAgainstFeedURL(t *testing.T) {
	t.Parallel()

	body := `<div class="list_main_update"><ul>
  <li><a href="/releases/item/a/1"><img src="thumbs/a.jpg"><h2>A</h2></a></li>
  <li><a href="/releases/item/b/1"><img src="https://cdn.test/b.jpg"><h2>B</h2></a></li>
  <li><a href="/releases/item/c/1"><h2>C</h2></a></li>
</ul></div>`
	s, err := NewScanner("https://site.test", "/updates/", &stubFetcher{body: body}, sha256.New(), nil)
	require.NoError(t, err)

	entries, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "https://site.test/updates/thumbs/a.jpg", entries[0].Image)
	require.Equal(t, "https://cdn.test/b.jpg", entries[1].Image)
	require.Empty(t, entries[2].Image)
}

func TestScanEmptyFeed(t *testing.T) {
	t.Parallel()

	s, err := NewScanner("https://site.test", "", &stubFetcher{body: "<html></html>"}, sha256.New(), nil)
	require.NoError(t, err)
	require.Equal(t, "https://site.test/", s.URL())

	entries, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestScanFetchFailure(t *testing.T) {
	t.Parallel()

	s, err := NewScanner("https://site.test", "/", &stubFetcher{err: errors.New("timeout")}, sha256.New(), nil)
	require.NoError(t, err)

	_, err = s.Scan(context.Background())
	require.True(t, catalog.IsSourceUnavailable(err))
}

func TestNewScannerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewScanner("https://site.test", "/", nil, sha256.New(), nil)
	require.Error(t, err)
	_, err = NewScanner("::", "/", &stubFetcher{}, sha256.New(), nil)
	require.Error(t, err)
}

func TestScanOverHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedPage))
	}))
	defer srv.Close()

	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: time.Second}, nil, zap.NewNop())
	s, err := NewScanner(srv.URL, "/", fetcher, sha256.New(), zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		entries, err := s.Scan(context.Background())
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, srv.URL+"/releases/item/beta/ep-9", entries[1].URL)
	}
}
