package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"power-env-alerts/internal/config"
	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/service"
	"power-env-alerts/internal/storage"
)

type stubEvents struct {
	records []storage.EventRecord
}

func (s *stubEvents) UpsertEvent(_ context.Context, rec storage.EventRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *stubEvents) ListOpenEvents(context.Context) ([]storage.EventRecord, error) {
	var out []storage.EventRecord
	for _, rec := range s.records {
		if rec.Status == storage.EventStatusOpen {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *stubEvents) ListRecentEvents(_ context.Context, limit int) ([]storage.EventRecord, error) {
	if limit > len(s.records) {
		limit = len(s.records)
	}
	return s.records[:limit], nil
}

func (s *stubEvents) ListEventsBetween(_ context.Context, _, _ time.Time) ([]storage.EventRecord, error) {
	return s.records, nil
}

func (s *stubEvents) CountEvents(context.Context) (int64, error) {
	return int64(len(s.records)), nil
}

var _ storage.EventStore = (*stubEvents)(nil)

func apiConfig() *config.Config {
	det := detector.DefaultConfig()
	det.MinDuration = 0
	det.Cooldown = 5 * time.Second
	det.SpikeDelta = 1000

	return &config.Config{
		App:      config.AppConfig{Name: "homewatcher-test"},
		Detector: det,
		HTTP:     config.HTTPConfig{Addr: ":0"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, deps service.Deps, dbHealth func(context.Context) error) (*Server, *service.Service) {
	t.Helper()
	engine, err := detector.New(cfg.Detector)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	svc := service.New(cfg, engine, deps, zerolog.Nop())
	return NewServer(cfg, svc, dbHealth, zerolog.Nop()), svc
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPostReading(t *testing.T) {
	srv, _ := newTestServer(t, apiConfig(), service.Deps{}, nil)
	handler := srv.Handler()

	// 35A on a 30A limit opens an overcurrent event immediately.
	rec := postJSON(t, handler, "/api/v1/readings", `{"timestamp":"2025-04-01T09:00:00Z","power_w":7700}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Outcome    string `json:"outcome"`
		Anomalous  bool   `json:"anomalous"`
		OpenEvents int    `json:"open_events"`
		Changes    []struct {
			Kind  string `json:"kind"`
			Event struct {
				Rule     string `json:"rule"`
				Severity string `json:"severity"`
			} `json:"event"`
		} `json:"changes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Outcome != "processed" || !resp.Anomalous || resp.OpenEvents != 1 {
		t.Fatalf("响应不符: %+v", resp)
	}
	if len(resp.Changes) != 1 || resp.Changes[0].Kind != "opened" || resp.Changes[0].Event.Rule != "overcurrent" {
		t.Fatalf("事件变更不符: %+v", resp.Changes)
	}
}

func TestPostReadingBadPayloads(t *testing.T) {
	srv, _ := newTestServer(t, apiConfig(), service.Deps{}, nil)
	handler := srv.Handler()

	cases := map[string]string{
		"not json":      `{"power_w":`,
		"no fields":     `{"vendor_id":"x"}`,
		"bad timestamp": `{"timestamp":"garbage","power_w":100}`,
		"bad value":     `{"power_w":"abc"}`,
	}
	for name, body := range cases {
		if rec := postJSON(t, handler, "/api/v1/readings", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: 状态码应为 400, 实际 %d", name, rec.Code)
		}
	}
}

func TestPostReadingOutOfOrder(t *testing.T) {
	srv, _ := newTestServer(t, apiConfig(), service.Deps{}, nil)
	handler := srv.Handler()

	postJSON(t, handler, "/api/v1/readings", `{"timestamp":"2025-04-01T09:00:00Z","power_w":220}`)
	rec := postJSON(t, handler, "/api/v1/readings", `{"timestamp":"2025-04-01T08:00:00Z","power_w":220}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d", rec.Code)
	}
	var resp struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Outcome != "out_of_order" {
		t.Fatalf("乱序读数 outcome 不符: %q", resp.Outcome)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, apiConfig(), service.Deps{}, nil)
	handler := srv.Handler()

	postJSON(t, handler, "/api/v1/readings", `{"timestamp":"2025-04-01T09:00:00Z","power_w":220}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d", rec.Code)
	}

	var report service.StatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if report.App != "homewatcher-test" || report.Engine.Processed != 1 {
		t.Fatalf("状态报告不符: %+v", report)
	}
}

func TestEventsEndpointWithoutStorage(t *testing.T) {
	srv, _ := newTestServer(t, apiConfig(), service.Deps{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("无存储时应返回 503, 实际 %d", rec.Code)
	}
}

func TestEventsEndpointWithStorage(t *testing.T) {
	events := &stubEvents{}
	srv, _ := newTestServer(t, apiConfig(), service.Deps{Events: events}, nil)
	handler := srv.Handler()

	postJSON(t, handler, "/api/v1/readings", `{"timestamp":"2025-04-01T09:00:00Z","power_w":7700}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?open=true", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d: %s", rec.Code, rec.Body.String())
	}

	var records []storage.EventRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(records) != 1 || records[0].Rule != "overcurrent" {
		t.Fatalf("事件列表不符: %+v", records)
	}
}

func TestResetEndpoint(t *testing.T) {
	srv, svc := newTestServer(t, apiConfig(), service.Deps{}, nil)
	handler := srv.Handler()

	postJSON(t, handler, "/api/v1/readings", `{"timestamp":"2025-04-01T09:00:00Z","power_w":7700}`)
	if svc.Status(context.Background()).Engine.OpenEvents != 1 {
		t.Fatal("应有打开事件")
	}

	rec := postJSON(t, handler, "/api/v1/reset", `{"estimators":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d", rec.Code)
	}
	report := svc.Status(context.Background())
	if report.Engine.OpenEvents != 0 || report.Engine.Processed != 0 {
		t.Fatalf("重置后引擎应清空: %+v", report.Engine)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, apiConfig(), service.Deps{}, func(context.Context) error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("健康检查应为 200, 实际 %d", rec.Code)
	}

	down, _ := newTestServer(t, apiConfig(), service.Deps{}, func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("数据库故障应为 503, 实际 %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("响应应标记 degraded: %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, apiConfig(), service.Deps{}, nil)
	handler := srv.Handler()

	postJSON(t, handler, "/api/v1/readings", `{"timestamp":"2025-04-01T09:00:00Z","power_w":220}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `homewatcher_readings_total{outcome="processed"} 1`) {
		t.Fatal("指标输出应包含读数计数")
	}
}

func TestLiveFeed(t *testing.T) {
	srv, svc := newTestServer(t, apiConfig(), service.Deps{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("解析地址失败: %v", err)
	}
	wsURL.Scheme = "ws"
	wsURL.Path = "/api/v1/live"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		t.Fatalf("websocket 连接失败: %v", err)
	}
	defer conn.Close()

	// Registration happens after the handshake returns; wait for it.
	deadline := time.Now().Add(5 * time.Second)
	for svc.Hub().Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("订阅者未注册")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/v1/readings", "application/json",
		strings.NewReader(`{"timestamp":"2025-04-01T09:00:00Z","power_w":7700}`))
	if err != nil {
		t.Fatalf("POST 失败: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取广播失败: %v", err)
	}

	var tick struct {
		Type       string `json:"type"`
		Anomalous  bool   `json:"anomalous"`
		OpenEvents int    `json:"open_events"`
	}
	if err := json.Unmarshal(payload, &tick); err != nil {
		t.Fatalf("解析广播失败: %v", err)
	}
	if tick.Type != "tick" || !tick.Anomalous || tick.OpenEvents != 1 {
		t.Fatalf("广播内容不符: %s", payload)
	}
}
