package amzads

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/pkg/poll"
)

// ErrReportUnavailable means the reporting feature does not apply to this
// account (or the job itself failed remotely). Callers treat it as an
// empty result and carry prior metrics over, never as a cycle failure.
var ErrReportUnavailable = errors.New("amzads: report unavailable")

// ErrReportTimeout means the poll deadline elapsed before the job reached
// a terminal status. Behaviorally identical to unavailable, kept distinct
// for diagnosis.
var ErrReportTimeout = errors.New("amzads: report poll timed out")

// ReportOptions controls report job polling.
type ReportOptions struct {
	PollInterval time.Duration
	// MaxWait of zero polls without a deadline (back-office resync mode).
	MaxWait time.Duration
}

// RequestReport runs the full report orchestration for one report kind:
// create the job (reusing a duplicate in-flight job if the platform says
// one exists), poll it to a terminal status, download and decode the
// rows. An unavailable or timed-out report yields an empty row set and a
// nil error; ErrUnauthorized propagates so the caller can refresh the
// token and retry the orchestration once.
func (c *Client) RequestReport(ctx context.Context, auth Credentials, kind ReportKind, window DateWindow, opts ReportOptions) ([]ReportRow, error) {
	reportID, err := c.CreateReport(ctx, auth, kind, window)
	if err != nil {
		if errors.Is(err, ErrReportUnavailable) {
			logger.Warn("report unavailable at creation", "kind", string(kind), "profile", auth.ProfileID)
			return nil, nil
		}
		return nil, err
	}

	location, err := c.PollReport(ctx, auth, reportID, opts)
	if err != nil {
		switch {
		case errors.Is(err, ErrReportTimeout):
			logger.Warn("report poll deadline exceeded", "kind", string(kind), "report_id", reportID, "max_wait", opts.MaxWait.String())
			return nil, nil
		case errors.Is(err, ErrReportUnavailable):
			logger.Warn("report job failed remotely", "kind", string(kind), "report_id", reportID)
			return nil, nil
		default:
			return nil, err
		}
	}

	rows, err := c.DownloadReport(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("downloading %s report: %w", kind, err)
	}
	return rows, nil
}

// reportUnavailableStatuses are creation failures that mean the reporting
// feature simply does not apply to this account, not that the call is
// broken. 425 is the duplicate-job signal and is only unavailable when no
// in-flight job id can be recovered from the detail text.
var reportUnavailableStatuses = map[int]bool{
	http.StatusBadRequest:       true,
	http.StatusForbidden:        true,
	http.StatusNotFound:         true,
	http.StatusMethodNotAllowed: true,
	http.StatusTooEarly:         true,
}

// CreateReport submits an asynchronous report job and returns its id.
// A duplicate-job rejection with a recoverable job id returns that id
// instead of failing.
func (c *Client) CreateReport(ctx context.Context, auth Credentials, kind ReportKind, window DateWindow) (string, error) {
	req := createReportRequest{
		StartDate:     window.Start.Format(reportDateLayout),
		EndDate:       window.End.Format(reportDateLayout),
		Configuration: reportConfigFor(kind),
	}

	body, err := c.doRequest(ctx, auth, http.MethodPost, "/reporting/reports", nil, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && reportUnavailableStatuses[apiErr.StatusCode] {
			if id := ParseDuplicateReportID(apiErr.Body); id != "" {
				logger.Info("reusing in-flight report job", "kind", string(kind), "report_id", id)
				return id, nil
			}
			return "", ErrReportUnavailable
		}
		return "", fmt.Errorf("creating %s report: %w", kind, err)
	}

	var resp createReportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing report creation response: %w", err)
	}
	if resp.ReportID == "" {
		if id := ParseDuplicateReportID(resp.Detail); id != "" {
			return id, nil
		}
		return "", ErrReportUnavailable
	}
	return resp.ReportID, nil
}

// duplicateReportIDPattern matches the job identifier the platform embeds
// in free-text duplicate-job rejections, e.g.
// "Report with same parameters already in progress: a1b2c3d4-e5f6-7890-abcd-ef0123456789".
var duplicateReportIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// ParseDuplicateReportID extracts an in-flight report job id from a
// duplicate-job rejection detail. Returns "" when no id is present. The
// parsing is brittle by nature, which is why it lives behind this one
// function instead of inline in the HTTP path.
func ParseDuplicateReportID(detail string) string {
	if detail == "" {
		return ""
	}
	lower := strings.ToLower(detail)
	if !strings.Contains(lower, "duplicate") && !strings.Contains(lower, "progress") && !strings.Contains(lower, "already") {
		return ""
	}
	return duplicateReportIDPattern.FindString(detail)
}

// PollReport polls a report job until it completes, fails, or the
// configured deadline elapses. Returns the download location on success.
func (c *Client) PollReport(ctx context.Context, auth Credentials, reportID string, opts ReportOptions) (string, error) {
	var location string

	err := poll.Until(ctx, opts.PollInterval, opts.MaxWait, func(ctx context.Context) (poll.Decision, error) {
		body, err := c.doRequest(ctx, auth, http.MethodGet, "/reporting/reports/"+reportID, nil, nil)
		if err != nil {
			// 401 aborts the poll immediately so the caller can
			// refresh and retry the whole orchestration once.
			return poll.Continue, err
		}

		var status reportStatus
		if err := json.Unmarshal(body, &status); err != nil {
			return poll.Continue, fmt.Errorf("parsing report status: %w", err)
		}

		switch status.Status {
		case reportStatusCompleted:
			location = status.URL
			return poll.Done, nil
		case reportStatusFailure:
			logger.Warn("report job entered failure state", "report_id", reportID, "reason", status.FailureReason)
			return poll.Continue, ErrReportUnavailable
		default:
			return poll.Continue, nil
		}
	})
	if err != nil {
		if errors.Is(err, poll.ErrDeadline) {
			return "", ErrReportTimeout
		}
		return "", err
	}
	if location == "" {
		return "", ErrReportUnavailable
	}
	return location, nil
}

// DownloadReport fetches a completed report from its download location and
// decodes the rows. The location is a pre-signed URL; no platform auth
// headers are sent. The payload may be gzip-compressed and may be either a
// single JSON array or newline-delimited JSON objects.
func (c *Client) DownloadReport(ctx context.Context, location string) ([]ReportRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching report payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var reader io.Reader = resp.Body
	if isGzipPayload(resp, location) {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip payload: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading report payload: %w", err)
	}

	return DecodeReportRows(data), nil
}

func isGzipPayload(resp *http.Response, location string) bool {
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		return true
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "gzip") {
		return true
	}
	trimmed := location
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.HasSuffix(trimmed, ".gz")
}

// DecodeReportRows parses a report payload. It first tries a single JSON
// array; failing that it falls back to newline-delimited JSON objects,
// silently dropping unparsable lines. A row-level parse failure never
// surfaces as an error — a partially readable report beats no report.
func DecodeReportRows(data []byte) []ReportRow {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	var rows []ReportRow
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows
	}

	dropped := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row ReportRow
		if err := json.Unmarshal(line, &row); err != nil {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	if dropped > 0 {
		logger.Warn("dropped unparsable report lines", "count", dropped)
	}
	return rows
}

func reportConfigFor(kind ReportKind) reportConfiguration {
	switch kind {
	case ReportKeywords:
		return reportConfiguration{
			AdProduct:    "SPONSORED_PRODUCTS",
			ReportTypeID: "spTargeting",
			GroupBy:      []string{"targeting"},
			Columns:      []string{"campaignId", "adGroupId", "keywordId", "impressions", "clicks", "cost", "purchases", "sales"},
			TimeUnit:     "SUMMARY",
			Format:       "GZIP_JSON",
		}
	default:
		return reportConfiguration{
			AdProduct:    "SPONSORED_PRODUCTS",
			ReportTypeID: "spCampaigns",
			GroupBy:      []string{"campaign"},
			Columns:      []string{"campaignId", "impressions", "clicks", "cost", "purchases", "sales"},
			TimeUnit:     "SUMMARY",
			Format:       "GZIP_JSON",
		}
	}
}
