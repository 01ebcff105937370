package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// counterValue はレジストリから指定メトリクスのカウンタ値を取得する。
// ラベル付きの場合は最初のメトリクスの値を返す。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() == name {
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", name)
			}
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}

	t.Fatalf("metric %s not found", name)
	return 0
}

// TestRecordLogin_IncrementsCounter はログイン成功カウンタが増加することを検証する。
func TestRecordLogin_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("github")
	c.RecordLogin("github")

	if val := counterValue(t, reg, "authman_logins_total"); val != 2 {
		t.Errorf("logins_total = %v, want 2", val)
	}
}

// TestRecordMerge_IncrementsCounters はマージカウンタと敗者ユーザーカウンタが
// 増加することを検証する。
func TestRecordMerge_IncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMerge("github", 2)
	c.RecordMerge("google", 1)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	var mergeTotal float64
	for _, mf := range metrics {
		if mf.GetName() == "authman_merges_total" {
			for _, m := range mf.GetMetric() {
				mergeTotal += m.GetCounter().GetValue()
			}
		}
	}
	if mergeTotal != 2 {
		t.Errorf("merges_total across providers = %v, want 2", mergeTotal)
	}

	if val := counterValue(t, reg, "authman_merged_users_total"); val != 3 {
		t.Errorf("merged_users_total = %v, want 3", val)
	}
}

// TestRecordAuthFailure_IncrementsCounter は認証失敗カウンタが理由別に
// 増加することを検証する。
func TestRecordAuthFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthFailure("provider_auth_failed")

	if val := counterValue(t, reg, "authman_auth_failures_total"); val != 1 {
		t.Errorf("auth_failures_total = %v, want 1", val)
	}
}

// TestRecordCallbackLatency_RecordsHistogram はレイテンシがヒストグラムに
// 記録されることを検証する。
func TestRecordCallbackLatency_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCallbackLatency(150 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "authman_callback_latency_seconds" {
			found = true
			if count := mf.GetMetric()[0].GetHistogram().GetSampleCount(); count != 1 {
				t.Errorf("sample count = %d, want 1", count)
			}
		}
	}
	if !found {
		t.Error("authman_callback_latency_seconds metric not found")
	}
}

// TestHandler_ExposesMetrics は/metricsハンドラーが登録済みメトリクスを
// 公開することを検証する。
func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordLogin("github")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	if !strings.Contains(string(body), "authman_logins_total") {
		t.Error("expected authman_logins_total in metrics output")
	}
}
