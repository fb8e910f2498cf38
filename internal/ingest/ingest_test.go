package ingest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdocs/internal/ingest"
	"askdocs/internal/retrieval"
	"askdocs/internal/text"
)

const page = `<!doctype html>
<html>
<head><title>  Sky
 Facts </title><style>body { color: red }</style></head>
<body>
<nav><a href="/">Home</a> | <a href="/about">About</a></nav>
<h1>Why the sky is blue</h1>
<p>Sunlight is
   scattered by the &amp; atmosphere.</p>
<script>track()</script>
<ul><li>Blue scatters most</li><li>Red scatters least</li></ul>
<pre>keep   this
spacing</pre>
<footer>Copyright 2024</footer>
</body>
</html>`

func TestExtract_HTML(t *testing.T) {
	got, err := ingest.Extract(ingest.FormatHTML, []byte(page))
	require.NoError(t, err)

	clean := text.NewNormalizer().Normalize(got)
	assert.Contains(t, clean, "Why the sky is blue")
	assert.Contains(t, clean, "Sunlight is scattered by the & atmosphere.")
	assert.Contains(t, clean, "Blue scatters most\nRed scatters least")
	assert.Contains(t, got, "keep   this\nspacing")
	for _, dropped := range []string{"Home", "track()", "color: red", "Copyright", "Sky Facts"} {
		assert.NotContains(t, clean, dropped)
	}

	assert.Equal(t, "Sky Facts", ingest.HTMLTitle([]byte(page)))
}

func TestExtract_Markdown(t *testing.T) {
	src := "# Title\n\nSome *bold* text\nwrapped over [two](http://x.y) lines.\n\n- one\n- two\n\n```go\nx := 1\n```\n\n<div>raw html</div>\n"
	got, err := ingest.Extract(ingest.FormatMarkdown, []byte(src))
	require.NoError(t, err)

	clean := text.NewNormalizer().Normalize(got)
	assert.True(t, strings.HasPrefix(clean, "Title\n\n"), clean)
	assert.Contains(t, clean, "Some bold text wrapped over two lines.")
	assert.Contains(t, clean, "one\ntwo")
	assert.Contains(t, clean, "x := 1")
	assert.NotContains(t, clean, "*")
	assert.NotContains(t, clean, "```")
	assert.NotContains(t, clean, "raw html")
	assert.NotContains(t, clean, "http://x.y")
}

func TestExtract_InvalidPDF(t *testing.T) {
	_, err := ingest.Extract(ingest.FormatPDF, []byte("not a pdf"))
	assert.Error(t, err)
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		name, contentType string
		want              ingest.Format
		wantErr           bool
	}{
		{"notes.md", "", ingest.FormatMarkdown, false},
		{"NOTES.TXT", "", ingest.FormatText, false},
		{"report.pdf", "", ingest.FormatPDF, false},
		{"index", "text/html; charset=utf-8", ingest.FormatHTML, false},
		{"blob", "application/octet-stream", "", true},
		{"image.png", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ingest.FormatFor(tt.name, tt.contentType)
			if tt.wantErr {
				assert.ErrorIs(t, err, ingest.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("b.md", "# Beta\n\nSecond file.")
	write("a.txt", "First file.")
	write("skip.png", "binary")
	write(".git/config.txt", "hidden")
	write("sub/c.html", "<p>Third file.</p>")
	write("big.txt", strings.Repeat("x", 64))

	l := ingest.NewLoader(32)
	sources, errs := l.LoadDir(dir)

	require.Len(t, sources, 3)
	assert.Equal(t, filepath.Join(dir, "a.txt"), sources[0].Origin)
	assert.Equal(t, retrieval.KindPath, sources[0].Kind)
	assert.Equal(t, "First file.", sources[0].Text)
	assert.Contains(t, sources[2].Text, "Third file.")

	require.Len(t, errs, 1)
	var ie *retrieval.IngestError
	require.True(t, errors.As(errs[0], &ie))
	assert.Equal(t, filepath.Join(dir, "big.txt"), ie.Origin)
	assert.ErrorIs(t, errs[0], ingest.ErrTooLarge)

	_, err := l.LoadFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestReadUpload(t *testing.T) {
	src, err := ingest.ReadUpload("../../etc/notes.md", "", strings.NewReader("# Hello\n\nWorld"), 0)
	require.NoError(t, err)
	assert.Equal(t, "upload:notes.md", src.Origin)
	assert.Equal(t, retrieval.KindUpload, src.Kind)
	assert.Contains(t, src.Text, "World")

	_, err = ingest.ReadUpload("photo.jpg", "image/jpeg", strings.NewReader("..."), 0)
	assert.ErrorIs(t, err, ingest.ErrUnsupportedFormat)
}

func TestFetcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(page))
		case "/readme.md":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("# Readme\n\nPlain *markdown*."))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("late"))
		case "/binary":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte{0, 1, 2})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	f := ingest.NewFetcher(100*time.Millisecond, 0)

	t.Run("HTML Page", func(t *testing.T) {
		src, err := f.Fetch(ctx, ts.URL+"/page")
		require.NoError(t, err)
		assert.Equal(t, ts.URL+"/page", src.Origin)
		assert.Equal(t, retrieval.KindURL, src.Kind)
		assert.Contains(t, src.Text, "Why the sky is blue")
	})

	t.Run("Markdown By Extension", func(t *testing.T) {
		src, err := f.Fetch(ctx, ts.URL+"/readme.md")
		require.NoError(t, err)
		assert.Contains(t, src.Text, "Plain markdown.")
	})

	t.Run("Not Found", func(t *testing.T) {
		_, err := f.Fetch(ctx, ts.URL+"/missing")
		assert.ErrorIs(t, err, ingest.ErrFetch)
	})

	t.Run("Timeout", func(t *testing.T) {
		_, err := f.Fetch(ctx, ts.URL+"/slow")
		assert.ErrorIs(t, err, ingest.ErrFetch)
	})

	t.Run("Unsupported Content", func(t *testing.T) {
		_, err := f.Fetch(ctx, ts.URL+"/binary")
		assert.ErrorIs(t, err, ingest.ErrUnsupportedFormat)
	})

	t.Run("Invalid URL", func(t *testing.T) {
		_, err := f.Fetch(ctx, "ftp://example.com/file")
		assert.ErrorIs(t, err, retrieval.ErrInvalidSource)
	})
}
