package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<html><body>
<a href="?C=N;O=D">Name</a>
<a href="Empresas0.zip">Empresas0.zip</a>
<a href="Empresas1.zip">Empresas1.zip</a>
<a href="Estabelecimentos0.zip">Estabelecimentos0.zip</a>
<a href="Socios0.zip">Socios0.zip</a>
<a href="Empresas0.zip">duplicate</a>
<a href="LEIAME.pdf">LEIAME.pdf</a>
</body></html>`

// newIndexServer serves indexPage under /cnpj/ and each listed archive
// with its own name as content. missing names answer 404.
func newIndexServer(t *testing.T, missing ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var archiveHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/cnpj/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/cnpj/")
		if name == "" {
			fmt.Fprint(w, indexPage)
			return
		}
		for _, m := range missing {
			if m == name {
				http.NotFound(w, r)
				return
			}
		}
		archiveHits.Add(1)
		fmt.Fprint(w, "zip:"+name)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &archiveHits
}

func newTestCache(srv *httptest.Server, dir string) *Cache {
	return New(srv.URL+"/cnpj/", dir, []string{"Empresas", "Estabelecimentos"},
		WithHTTPClient(srv.Client()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestParseLinks(t *testing.T) {
	hrefs, err := parseLinks(strings.NewReader(indexPage), []string{"Empresas", "Estabelecimentos"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Empresas0.zip", "Empresas1.zip", "Estabelecimentos0.zip", "Empresas0.zip"}, hrefs)
}

func TestLinks_ResolvesAndDeduplicates(t *testing.T) {
	srv, _ := newIndexServer(t)
	links, err := newTestCache(srv, t.TempDir()).Links(context.Background())
	require.NoError(t, err)

	require.Len(t, links, 3)
	assert.Equal(t, srv.URL+"/cnpj/Empresas0.zip", links[0].String())
}

func TestFetch_DownloadsMissingOnly(t *testing.T) {
	srv, hits := newIndexServer(t)
	dir := filepath.Join(t.TempDir(), "zips")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Empresas1.zip"), []byte("already here"), 0o644))

	res, err := newTestCache(srv, dir).Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "Empresas0.zip"),
		filepath.Join(dir, "Estabelecimentos0.zip"),
	}, res.Downloaded)
	assert.Equal(t, []string{filepath.Join(dir, "Empresas1.zip")}, res.Existing)
	assert.Equal(t, 1, res.PerKind["Empresas"])
	assert.Equal(t, 1, res.PerKind["Estabelecimentos"])
	assert.EqualValues(t, 2, hits.Load())

	data, err := os.ReadFile(filepath.Join(dir, "Empresas0.zip"))
	require.NoError(t, err)
	assert.Equal(t, "zip:Empresas0.zip", string(data))

	existing, err := os.ReadFile(filepath.Join(dir, "Empresas1.zip"))
	require.NoError(t, err)
	assert.Equal(t, "already here", string(existing))

	// A second run finds everything present.
	res, err = newTestCache(srv, dir).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Downloaded)
	assert.Len(t, res.Existing, 3)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetch_FailedDownloadLeavesNoFile(t *testing.T) {
	srv, _ := newIndexServer(t, "Empresas1.zip")
	dir := t.TempDir()

	res, err := newTestCache(srv, dir).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Empresas1.zip")
	assert.Equal(t, []string{filepath.Join(dir, "Empresas0.zip")}, res.Downloaded)

	_, err = os.Stat(filepath.Join(dir, "Empresas1.zip"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "Empresas1.zip"+partSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestFetch_IndexUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestCache(srv, t.TempDir()).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch index")
}

func TestValidate(t *testing.T) {
	assert.Error(t, New("", t.TempDir(), []string{"Empresas"}).Validate())
	assert.ErrorIs(t, New("http://example.com/", t.TempDir(), nil).Validate(), errNoKinds)
	assert.NoError(t, New("http://example.com/", t.TempDir(), []string{"Empresas"}).Validate())
}

func TestKindOf(t *testing.T) {
	kinds := []string{"Empresas", "Estabelecimentos"}
	assert.Equal(t, "Empresas", kindOf("Empresas3.zip", kinds))
	assert.Equal(t, "Estabelecimentos", kindOf("Estabelecimentos9.zip", kinds))
	assert.Equal(t, "", kindOf("Socios0.zip", kinds))
}
