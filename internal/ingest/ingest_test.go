package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/testutil"
)

type fakeDescriber struct {
	description string
	err         error
}

func (f fakeDescriber) DescribeImage(context.Context, string) (string, error) {
	return f.description, f.err
}

const articleHTML = `<!DOCTYPE html>
<html><head>
<meta property="og:title" content="Major flooding hits the coastal region">
<meta property="og:description" content="Officials report significant damage after record rainfall across three provinces this weekend.">
<meta name="author" content="Jane Reporter">
<script type="application/ld+json">
{"@type":"NewsArticle","headline":"Major flooding hits the coastal region","articleBody":"Emergency services evacuated thousands of residents as rivers crested well above flood stage. Authorities expect recovery to take months.","author":{"name":"Jane Reporter"},"datePublished":"2026-03-01T10:00:00Z"}
</script>
</head><body>
<nav>Home | News | About</nav>
<p>Emergency services evacuated thousands of residents.</p>
<script>var analytics = true;</script>
</body></html>`

func TestHTMLExtractorReadsMetaAndJSONLD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	ex := NewHTMLExtractor()
	result, err := ex.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Contains(t, result.Text, "Major flooding hits the coastal region")
	assert.Contains(t, result.Text, "record rainfall")
	assert.Contains(t, result.Text, "Emergency services evacuated")
	assert.NotContains(t, result.Text, "var analytics")
	assert.Equal(t, "Jane Reporter", result.Author)
	require.NotNil(t, result.Timestamp)
	assert.Equal(t, 2026, result.Timestamp.Year())
}

func TestHTMLExtractorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	ex := NewHTMLExtractor()
	_, err := ex.Extract(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "status 404")
}

func TestIngestMixedAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	ing := New(nil, fakeDescriber{description: "A photo of a flooded street with stranded cars."}, 5*time.Second, testutil.TestLogger())

	result := ing.Ingest(context.Background(), []model.Attachment{
		{Kind: model.AttachmentLink, URL: srv.URL},
		{Kind: model.AttachmentImage, URL: "https://example.com/img.jpg"},
	})

	require.Len(t, result.Records, 2)
	assert.Contains(t, result.CombinedText, "flooding")
	assert.Contains(t, result.CombinedText, ImageSummaryPrefix)
	assert.True(t, result.Records[1].ImageDerived)
	assert.Empty(t, result.Warnings)
}

func TestIngestFailureIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	ing := New(nil, fakeDescriber{err: errors.New("vision unavailable")}, 5*time.Second, testutil.TestLogger())

	result := ing.Ingest(context.Background(), []model.Attachment{
		{Kind: model.AttachmentImage, URL: "https://example.com/img.jpg"},
		{Kind: model.AttachmentLink, URL: srv.URL},
	})

	require.Len(t, result.Records, 2)
	assert.NotEmpty(t, result.Records[0].Error)
	assert.Empty(t, result.Records[1].Error)
	// The failing attachment surfaces as a warning, not a fatal error.
	assert.Len(t, result.Warnings, 1)
	assert.Contains(t, result.CombinedText, "flooding")
}

func TestIngestDocumentUnsupported(t *testing.T) {
	ing := New(nil, fakeDescriber{}, time.Second, testutil.TestLogger())
	result := ing.Ingest(context.Background(), []model.Attachment{
		{Kind: model.AttachmentDocument, URL: "https://example.com/file.pdf"},
	})
	require.Len(t, result.Records, 1)
	assert.Contains(t, result.Records[0].Error, "not supported")
}

func TestAttachmentMetadataSupplements(t *testing.T) {
	ing := New(nil, fakeDescriber{description: "A chart."}, time.Second, testutil.TestLogger())
	result := ing.Ingest(context.Background(), []model.Attachment{
		{Kind: model.AttachmentImage, URL: "https://example.com/img.jpg", Caption: "Unemployment fell to 3.9% in February", AltText: "bar chart"},
	})
	require.Len(t, result.Records, 1)
	assert.Contains(t, result.Records[0].Text, "Unemployment fell")
	assert.Contains(t, result.Records[0].Text, "A chart.")
}
