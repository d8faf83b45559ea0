package api

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"crmsync/internal/config"
	"crmsync/internal/logging"
	"crmsync/internal/normalize"
)

// PageGetter fetches one page of a list endpoint. *Client implements it.
type PageGetter interface {
	GetPage(ctx context.Context, version, path string, params url.Values) (*Page, error)
}

// FetchResult is everything retrieved from one endpoint. Err is set when the
// stream ended early; Records then holds what was fetched before.
type FetchResult struct {
	Endpoint string
	Records  []normalize.Record
	Pages    int
	Requests int
	Duration time.Duration
	Err      *UpstreamError
}

// Paginator walks list endpoints page by page until the stream ends.
type Paginator struct {
	getter   PageGetter
	pageSize int
	logger   *slog.Logger
}

// NewPaginator creates a paginator. pageSize is used for endpoints that do
// not set their own.
func NewPaginator(getter PageGetter, pageSize int, logger *slog.Logger) *Paginator {
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	return &Paginator{getter: getter, pageSize: pageSize, logger: logging.OrDiscard(logger)}
}

// FetchAll retrieves every record of the endpoint. It never fails: problems
// end the stream and are reported in FetchResult.Err.
func (p *Paginator) FetchAll(ctx context.Context, spec config.EndpointSpec) *FetchResult {
	start := time.Now()
	result := &FetchResult{Endpoint: spec.Name}
	logger := p.logger.With("endpoint", spec.Name)

	switch spec.Pagination {
	case config.PaginationCursor:
		p.fetchCursor(ctx, spec, result, logger)
	default:
		p.fetchOffset(ctx, spec, result, logger)
	}

	result.Duration = time.Since(start)
	if result.Err != nil {
		logger.Warn("pagination ended early",
			"pages", result.Pages, "records", len(result.Records), "error", result.Err)
	} else {
		logger.Info("fetched endpoint",
			"pages", result.Pages, "records", len(result.Records), "duration", result.Duration)
	}
	return result
}

func (p *Paginator) limit(spec config.EndpointSpec) int {
	if spec.PageSize > 0 {
		return spec.PageSize
	}
	return p.pageSize
}

func baseParams(spec config.EndpointSpec) url.Values {
	params := url.Values{}
	for k, v := range spec.Params {
		params.Set(k, v)
	}
	return params
}

func (p *Paginator) fetchCursor(ctx context.Context, spec config.EndpointSpec, result *FetchResult, logger *slog.Logger) {
	limit := p.limit(spec)
	seen := make(map[string]struct{})
	cursor := ""

	for {
		page := result.Pages + 1
		if err := ctx.Err(); err != nil {
			result.Err = &UpstreamError{Endpoint: spec.Name, Page: page, Reason: "cancelled", Err: err}
			return
		}

		params := baseParams(spec)
		params.Set("limit", strconv.Itoa(limit))
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, ok := p.get(ctx, spec, params, result)
		if !ok || len(resp.Items) == 0 {
			return
		}
		result.Records = append(result.Records, resp.Items...)
		result.Pages++
		logger.Debug("fetched page", "page", page, "records", len(resp.Items))

		if resp.NextToken == "" {
			return
		}
		if _, dup := seen[resp.NextToken]; dup || resp.NextToken == cursor {
			result.Err = &UpstreamError{Endpoint: spec.Name, Page: page, Reason: "cursor repeated", Err: ErrCursorRepeated}
			return
		}
		seen[resp.NextToken] = struct{}{}
		cursor = resp.NextToken
	}
}

func (p *Paginator) fetchOffset(ctx context.Context, spec config.EndpointSpec, result *FetchResult, logger *slog.Logger) {
	limit := p.limit(spec)
	start := 0

	for {
		page := result.Pages + 1
		if err := ctx.Err(); err != nil {
			result.Err = &UpstreamError{Endpoint: spec.Name, Page: page, Reason: "cancelled", Err: err}
			return
		}

		params := baseParams(spec)
		params.Set("start", strconv.Itoa(start))
		params.Set("limit", strconv.Itoa(limit))

		resp, ok := p.get(ctx, spec, params, result)
		if !ok || len(resp.Items) == 0 {
			return
		}
		result.Records = append(result.Records, resp.Items...)
		result.Pages++
		logger.Debug("fetched page", "page", page, "start", start, "records", len(resp.Items))

		if !resp.MoreItems {
			return
		}
		next := start + limit
		if resp.NextStart != nil {
			next = *resp.NextStart
		}
		if next <= start {
			result.Err = &UpstreamError{Endpoint: spec.Name, Page: page, Reason: "next_start did not advance", Err: ErrStalledOffset}
			return
		}
		start = next
	}
}

// get performs one request and turns transport, status, decoding and
// success=false failures into result.Err.
func (p *Paginator) get(ctx context.Context, spec config.EndpointSpec, params url.Values, result *FetchResult) (*Page, bool) {
	page := result.Pages + 1
	result.Requests++

	resp, err := p.getter.GetPage(ctx, spec.APIVersion, spec.Path, params)
	if err != nil {
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			upstream = &UpstreamError{Reason: "request failed", Err: err}
		}
		upstream.Endpoint = spec.Name
		upstream.Page = page
		if ctxErr := ctx.Err(); ctxErr != nil && upstream.Err == nil {
			upstream.Err = ctxErr
		}
		result.Err = upstream
		return nil, false
	}

	if !resp.Success {
		reason := "api reported failure"
		if resp.Error != "" {
			reason += ": " + resp.Error
		}
		result.Err = &UpstreamError{Endpoint: spec.Name, Page: page, Reason: reason, Err: ErrAPIFailure}
		return nil, false
	}
	return resp, true
}
