package ingest

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/changeset"
	"github.com/fathomlabs/fathomd/internal/chunker"
	"github.com/fathomlabs/fathomd/internal/metastore"
)

// Page is one already-fetched web page ready for indexing. Content is the
// page's markdown rendering.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PageJob describes one web-page ingest.
type PageJob struct {
	Pages   []Page
	Project string
	Dataset string
	Force   bool

	Progress ProgressFunc
}

// IndexPages ingests pages into a dataset. Pages whose content hash
// matches the stored one are skipped unless Force is set.
func (o *Orchestrator) IndexPages(ctx context.Context, job PageJob) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.IndexPages")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", job.Project),
		attribute.String("dataset", job.Dataset),
		attribute.Int("page_count", len(job.Pages)),
	)

	started := time.Now()
	t, err := o.prepare(ctx, job.Project, job.Dataset, string(chunker.SourceWebPage), "", "", "", job.Force)
	if err != nil {
		return nil, err
	}

	res := &Result{Status: StatusCompleted}
	for i, page := range job.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash := changeset.HashBytes([]byte(page.Content))
		if !job.Force {
			prior, err := o.store.WebPageHash(ctx, t.dataset.ID, page.URL)
			if err == nil && prior == hash {
				emit(job.Progress, "indexing", i+1, len(job.Pages))
				continue
			}
			if err != nil && !errors.Is(err, metastore.ErrNotFound) {
				o.logger.Warn("page hash lookup failed, re-indexing page",
					zap.String("url", page.URL), zap.Error(err))
			}
		}

		chunked := o.chunker.ChunkPage(ctx, page.URL, page.Title, page.Content)
		res.Warnings = append(res.Warnings, chunked.Warnings...)

		if res.TotalChunks+len(chunked.Chunks) > o.config.MaxChunks {
			o.logger.Warn("chunk cap reached, truncating job",
				zap.Int("cap", o.config.MaxChunks),
				zap.String("last_url", page.URL))
			res.Status = StatusLimitReached
			break
		}

		if !o.flushChunks(ctx, t, chunked.Chunks, nil) {
			continue
		}
		res.TotalChunks += len(chunked.Chunks)
		res.IndexedFiles++

		if err := o.store.UpsertWebPage(ctx, t.dataset.ID, metastore.WebPage{
			URL:         page.URL,
			Title:       page.Title,
			Domain:      domainOf(page.URL),
			ContentHash: hash,
			ChunkCount:  len(chunked.Chunks),
		}); err != nil {
			o.logger.Warn("recording web page failed", zap.String("url", page.URL), zap.Error(err))
		}
		emit(job.Progress, "indexing", i+1, len(job.Pages))
	}

	o.finish(ctx, t, res.TotalChunks, res.Status)
	o.metrics.jobDone("web_page", res.Status, time.Since(started))
	o.logger.Info("pages indexed",
		zap.String("collection", t.collection),
		zap.Int("pages", res.IndexedFiles),
		zap.Int("chunks", res.TotalChunks),
		zap.String("status", res.Status))
	return res, nil
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
