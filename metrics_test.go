package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExporterRefreshExposesDecodeCounts(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.AddDecode(InternalDecodeRecord{ChannelIndex: 0, Timestamp: time.Now().UTC(), Callsign: "W1ABCXX"})
	core.AddDecode(InternalDecodeRecord{ChannelIndex: 0, Timestamp: time.Now().UTC(), Callsign: "W1ABCXX"})

	m := NewMetricsExporter(core)
	m.refresh()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.server.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `wsjtxhub_decodes_total{channel="A"} 2`) {
		t.Errorf("expected channel A's decode count to be exposed, got body:\n%s", body)
	}
}

func TestMetricsExporterRefreshAggregatesQSOsAcrossChannels(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.AddQSO(0)
	core.AddQSO(0)
	core.AddQSO(1)

	m := NewMetricsExporter(core)
	m.refresh()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.server.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "wsjtxhub_qsos_completed_total 3") {
		t.Errorf("expected total QSO count to aggregate to 3, got body:\n%s", body)
	}
}

func TestMetricsExporterRefreshExposesResourceSamples(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.RegisterInstance(0, "wsjtx-hub-A")
	core.SetInstanceResourceSample(0, ProcessResourceSample{CPUPercent: 12.5, RSSBytes: 2048})

	m := NewMetricsExporter(core)
	m.refresh()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.server.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `wsjtxhub_decoder_cpu_percent{channel="A"} 12.5`) {
		t.Errorf("expected CPU percent to be exposed, got body:\n%s", body)
	}
	if !strings.Contains(body, `wsjtxhub_decoder_rss_bytes{channel="A"} 2048`) {
		t.Errorf("expected RSS bytes to be exposed, got body:\n%s", body)
	}
}
