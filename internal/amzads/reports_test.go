package amzads

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReportOptions() ReportOptions {
	return ReportOptions{PollInterval: 5 * time.Millisecond, MaxWait: time.Second}
}

func testWindow() DateWindow {
	return WindowEnding(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), 7)
}

func TestRequestReportFullCycle(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/reporting/reports", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req createReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2025-06-07", req.StartDate)
		assert.Equal(t, "2025-06-14", req.EndDate)
		assert.Equal(t, "spTargeting", req.Configuration.ReportTypeID)

		json.NewEncoder(w).Encode(createReportResponse{ReportID: "11111111-2222-3333-4444-555555555555", Status: "PENDING"})
	})
	mux.HandleFunc("/reporting/reports/11111111-2222-3333-4444-555555555555", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			json.NewEncoder(w).Encode(reportStatus{Status: "PROCESSING"})
			return
		}
		json.NewEncoder(w).Encode(reportStatus{Status: "COMPLETED", URL: server.URL + "/download/report.json"})
	})
	mux.HandleFunc("/download/report.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]ReportRow{
			{CampaignID: 101, AdGroupID: 201, KeywordID: 301, Impressions: 1000, Clicks: 100, Cost: 50, Orders: 0, Sales: 0},
		})
	})

	client := newTestClient(server)
	rows, err := client.RequestReport(context.Background(), testCreds(), ReportKeywords, testWindow(), testReportOptions())

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(301), rows[0].KeywordID)
	assert.Equal(t, int64(100), rows[0].Clicks)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestRequestReportUnavailableYieldsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"reports are not enabled for this account"}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	rows, err := client.RequestReport(context.Background(), testCreds(), ReportCampaigns, testWindow(), testReportOptions())

	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRequestReportTimeoutYieldsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/reporting/reports", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createReportResponse{ReportID: "11111111-2222-3333-4444-555555555555", Status: "PENDING"})
	})
	mux.HandleFunc("/reporting/reports/11111111-2222-3333-4444-555555555555", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(reportStatus{Status: "PROCESSING"})
	})

	client := newTestClient(server)
	opts := ReportOptions{PollInterval: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}
	rows, err := client.RequestReport(context.Background(), testCreds(), ReportKeywords, testWindow(), opts)

	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRequestReportRemoteFailureYieldsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/reporting/reports", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createReportResponse{ReportID: "11111111-2222-3333-4444-555555555555", Status: "PENDING"})
	})
	mux.HandleFunc("/reporting/reports/11111111-2222-3333-4444-555555555555", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(reportStatus{Status: "FAILURE", FailureReason: "internal error"})
	})

	client := newTestClient(server)
	rows, err := client.RequestReport(context.Background(), testCreds(), ReportKeywords, testWindow(), testReportOptions())

	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRequestReportUnauthorizedPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.RequestReport(context.Background(), testCreds(), ReportKeywords, testWindow(), testReportOptions())

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateReportReusesDuplicateJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooEarly)
		w.Write([]byte(`{"detail":"Report with same parameters already in progress: a1b2c3d4-e5f6-7890-abcd-ef0123456789"}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateReport(context.Background(), testCreds(), ReportKeywords, testWindow())

	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4-e5f6-7890-abcd-ef0123456789", id)
}

func TestParseDuplicateReportID(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		want   string
	}{
		{
			name:   "duplicate with id",
			detail: "Report with same parameters already in progress: a1b2c3d4-e5f6-7890-abcd-ef0123456789",
			want:   "a1b2c3d4-e5f6-7890-abcd-ef0123456789",
		},
		{
			name:   "duplicate keyword",
			detail: "duplicate request, see report a1b2c3d4-e5f6-7890-abcd-ef0123456789",
			want:   "a1b2c3d4-e5f6-7890-abcd-ef0123456789",
		},
		{
			name:   "uuid without duplicate context",
			detail: "request id a1b2c3d4-e5f6-7890-abcd-ef0123456789 rejected",
			want:   "",
		},
		{
			name:   "duplicate without id",
			detail: "a report with the same parameters is already in progress",
			want:   "",
		},
		{
			name:   "empty",
			detail: "",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDuplicateReportID(tt.detail))
		})
	}
}

func TestDownloadReportGzip(t *testing.T) {
	rows := []ReportRow{
		{CampaignID: 101, KeywordID: 301, Impressions: 500, Clicks: 25, Cost: 12.5},
	}
	payload, _ := json.Marshal(rows)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write(payload)
	gz.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-gzip")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := newTestClient(server)
	got, err := client.DownloadReport(context.Background(), server.URL+"/report.gz?X-Amz-Signature=abc")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(301), got[0].KeywordID)
}

func TestDecodeReportRows(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		rows := DecodeReportRows([]byte(`[{"campaignId":101,"clicks":5},{"campaignId":102,"clicks":7}]`))
		require.Len(t, rows, 2)
		assert.Equal(t, int64(101), rows[0].CampaignID)
	})

	t.Run("ndjson with bad lines dropped", func(t *testing.T) {
		data := []byte("{\"campaignId\":101,\"clicks\":5}\nnot json\n{\"campaignId\":102,\"clicks\":7}\n")
		rows := DecodeReportRows(data)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(102), rows[1].CampaignID)
	})

	t.Run("empty payload", func(t *testing.T) {
		assert.Empty(t, DecodeReportRows(nil))
		assert.Empty(t, DecodeReportRows([]byte("  \n ")))
	})
}

func TestIsGzipPayload(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.False(t, isGzipPayload(resp, "https://example.com/report.json"))
	assert.True(t, isGzipPayload(resp, "https://example.com/report.json.gz"))
	assert.True(t, isGzipPayload(resp, "https://example.com/report.gz?sig=abc#frag"))

	gzResp := &http.Response{Header: http.Header{"Content-Encoding": []string{"gzip"}}}
	assert.True(t, isGzipPayload(gzResp, "https://example.com/report.json"))
}
