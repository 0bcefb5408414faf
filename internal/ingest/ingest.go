// Package ingest fetches submission attachments and extracts analyzable text.
//
// Links dispatch to platform-specific extractors with a generic HTML
// fallback; images go through the vision describer. A single attachment
// failure never aborts ingestion — its record carries the error and the
// remaining attachments continue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
)

// ImageSummaryPrefix marks vision-derived text in the combined corpus, so
// downstream stages can identify image-derived claims.
const ImageSummaryPrefix = "Image summary: "

// Ingestor runs attachment extraction.
type Ingestor struct {
	extractors map[Platform]Extractor
	generic    Extractor
	describer  llm.Describer
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates an ingestor. extractors may be empty; the generic HTML
// extractor always serves as the fallback.
func New(extractors []Extractor, describer llm.Describer, timeout time.Duration, logger *slog.Logger) *Ingestor {
	ing := &Ingestor{
		extractors: make(map[Platform]Extractor),
		generic:    NewHTMLExtractor(),
		describer:  describer,
		timeout:    timeout,
		logger:     logger,
	}
	for _, ex := range extractors {
		for _, p := range ex.Platforms() {
			if p == PlatformGeneric {
				ing.generic = ex
				continue
			}
			ing.extractors[p] = ex
		}
	}
	return ing
}

// Ingest processes all attachments in parallel and aggregates the results.
func (ing *Ingestor) Ingest(ctx context.Context, attachments []model.Attachment) model.IngestionResult {
	records := make([]model.IngestionRecord, len(attachments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, att := range attachments {
		g.Go(func() error {
			records[i] = ing.ingestOne(gctx, att)
			return nil
		})
	}
	_ = g.Wait() // children never return errors; failures live on the records

	var (
		texts    []string
		warnings []string
	)
	for _, rec := range records {
		if rec.Error != "" {
			warnings = append(warnings, fmt.Sprintf("%s: %s", rec.Attachment.URL, rec.Error))
			continue
		}
		if rec.Text != "" {
			texts = append(texts, rec.Text)
		}
	}

	return model.IngestionResult{
		CombinedText: strings.Join(texts, "\n\n"),
		Records:      records,
		Warnings:     warnings,
	}
}

func (ing *Ingestor) ingestOne(ctx context.Context, att model.Attachment) model.IngestionRecord {
	ctx, cancel := context.WithTimeout(ctx, ing.timeout)
	defer cancel()

	rec := model.IngestionRecord{Attachment: att}

	switch att.Kind {
	case model.AttachmentLink:
		ing.ingestLink(ctx, att, &rec)
	case model.AttachmentImage:
		ing.ingestImage(ctx, att, &rec)
	case model.AttachmentDocument:
		rec.Error = "document ingestion is not supported"
	default:
		rec.Error = fmt.Sprintf("unknown attachment kind %q", att.Kind)
	}

	// Attachment-provided metadata supplements whatever extraction found.
	if extra := attachmentMetadataText(att); extra != "" {
		if rec.Text != "" {
			rec.Text += "\n\n" + extra
		} else if rec.Error == "" {
			rec.Text = extra
		}
	}

	rec.WordCount = len(strings.Fields(rec.Text))
	hasMetadata := att.Title != "" || att.Caption != "" || att.AltText != ""
	rec.Quality = AssessQuality(rec.Text, hasMetadata, rec.Truncated)
	return rec
}

func (ing *Ingestor) ingestLink(ctx context.Context, att model.Attachment, rec *model.IngestionRecord) {
	platform := DetectPlatform(att.URL)

	if ex, ok := ing.extractors[platform]; ok {
		result, err := ex.Extract(ctx, att.URL)
		if err != nil {
			ing.logger.Debug("ingest: platform extractor failed, trying generic",
				"platform", platform, "url", att.URL, "error", err)
		} else if result != nil {
			applyExtraction(rec, result)
			return
		}
	}

	result, err := ing.generic.Extract(ctx, att.URL)
	if err != nil {
		rec.Error = err.Error()
		return
	}
	if result == nil {
		rec.Error = "no extractable content"
		return
	}
	applyExtraction(rec, result)
}

func (ing *Ingestor) ingestImage(ctx context.Context, att model.Attachment, rec *model.IngestionRecord) {
	if ing.describer == nil {
		rec.Error = "no vision model configured"
		return
	}
	description, err := ing.describer.DescribeImage(ctx, att.URL)
	if err != nil {
		rec.Error = fmt.Sprintf("image description failed: %v", err)
		return
	}
	rec.Text = ImageSummaryPrefix + description
	rec.ImageDerived = true
}

func applyExtraction(rec *model.IngestionRecord, ex *Extraction) {
	rec.Text = ex.Text
	rec.Truncated = ex.Truncated
}

func attachmentMetadataText(att model.Attachment) string {
	var parts []string
	for _, v := range []string{att.Title, att.Summary, att.Caption, att.AltText} {
		if s := strings.TrimSpace(v); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
