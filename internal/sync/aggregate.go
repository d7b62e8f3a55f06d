package sync

import (
	"github.com/ignite/ads-optimizer/internal/amzads"
	"github.com/ignite/ads-optimizer/internal/store"
)

// metricsFromRow converts one report row into a stored metrics block with
// the derived ratios recomputed.
func metricsFromRow(r amzads.ReportRow) store.Metrics {
	m := store.Metrics{
		Spend:       r.Cost,
		Impressions: r.Impressions,
		Clicks:      r.Clicks,
		Orders:      r.Orders,
		Sales:       r.Sales,
	}
	m.Recalculate()
	return m
}

// campaignMetricsByProvider indexes a campaign report by campaign
// provider id.
func campaignMetricsByProvider(rows []amzads.ReportRow) map[int64]store.Metrics {
	out := make(map[int64]store.Metrics, len(rows))
	for _, r := range rows {
		out[r.CampaignID] = metricsFromRow(r)
	}
	return out
}

// keywordMetricsByProvider indexes a keyword report by keyword provider id.
func keywordMetricsByProvider(rows []amzads.ReportRow) map[int64]store.Metrics {
	out := make(map[int64]store.Metrics, len(rows))
	for _, r := range rows {
		out[r.KeywordID] = metricsFromRow(r)
	}
	return out
}

// AggregateByCampaign derives campaign rollups from keyword report rows by
// summing per parent campaign and recomputing CTR, CPC, and ACOS (each 0
// when its denominator is 0). Used when the dedicated campaign report is
// empty but the keyword report is not — unless strict mode says stale
// report-verified metrics beat fresh derived ones.
func AggregateByCampaign(rows []amzads.ReportRow) map[int64]store.Metrics {
	return aggregateBy(rows, func(r amzads.ReportRow) int64 { return r.CampaignID })
}

// AggregateByAdGroup derives ad-group rollups from keyword report rows.
// There is no dedicated ad-group report kind, so this is the normal
// metrics source for ad groups, not a fallback, and strict mode does not
// gate it.
func AggregateByAdGroup(rows []amzads.ReportRow) map[int64]store.Metrics {
	return aggregateBy(rows, func(r amzads.ReportRow) int64 { return r.AdGroupID })
}

func aggregateBy(rows []amzads.ReportRow, key func(amzads.ReportRow) int64) map[int64]store.Metrics {
	out := make(map[int64]store.Metrics)
	for _, r := range rows {
		k := key(r)
		if k == 0 {
			continue
		}
		m := out[k]
		m.Spend += r.Cost
		m.Impressions += r.Impressions
		m.Clicks += r.Clicks
		m.Orders += r.Orders
		m.Sales += r.Sales
		out[k] = m
	}
	for k, m := range out {
		m.Recalculate()
		out[k] = m
	}
	return out
}
