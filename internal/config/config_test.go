package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "app:\n  name: homewatcher\n"))
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}

	if cfg.Detector.Alpha != 0.2 {
		t.Fatalf("默认 alpha 错误: %v", cfg.Detector.Alpha)
	}
	if cfg.Detector.MinDuration != 10*time.Second {
		t.Fatalf("默认 min_duration 错误: %v", cfg.Detector.MinDuration)
	}
	if cfg.Baseline.SaveInterval != 5*time.Minute {
		t.Fatalf("默认 save_interval 错误: %v", cfg.Baseline.SaveInterval)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("默认 http.addr 错误: %s", cfg.HTTP.Addr)
	}
	if cfg.Alerting.Enabled {
		t.Fatal("alerting 默认应关闭")
	}
	if cfg.Export.MaxDataPoints != 100000 {
		t.Fatalf("默认 max_data_points 错误: %d", cfg.Export.MaxDataPoints)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeTempConfig(t, `
detector:
  alpha: 0.5
  min_duration: 30s
  cooldown: 1m
baseline:
  path: /tmp/base.json
http:
  addr: ":9090"
kafka:
  brokers: "broker-a:9092,broker-b:9092"
alerting:
  min_severity: alert
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Detector.Alpha != 0.5 {
		t.Fatalf("alpha 覆盖失败: %v", cfg.Detector.Alpha)
	}
	// Duration strings decode through the mapstructure hook.
	if cfg.Detector.MinDuration != 30*time.Second {
		t.Fatalf("min_duration 覆盖失败: %v", cfg.Detector.MinDuration)
	}
	if cfg.Detector.Cooldown != time.Minute {
		t.Fatalf("cooldown 覆盖失败: %v", cfg.Detector.Cooldown)
	}
	if cfg.Baseline.Path != "/tmp/base.json" {
		t.Fatalf("baseline.path 覆盖失败: %s", cfg.Baseline.Path)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("http.addr 覆盖失败: %s", cfg.HTTP.Addr)
	}
	// Comma-separated strings decode into slices.
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-b:9092" {
		t.Fatalf("kafka.brokers 解析错误: %v", cfg.Kafka.Brokers)
	}
	if cfg.MinSeverity().String() != "alert" {
		t.Fatalf("min_severity 覆盖失败: %s", cfg.MinSeverity())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad alpha":        "detector:\n  alpha: 2.0\n",
		"bad warmup":       "detector:\n  warmup_min_samples: 0\n",
		"empty baseline":   "baseline:\n  path: \"\"\n",
		"bad min_severity": "alerting:\n  min_severity: loud\n",
		"telegram no token": `
alerting:
  telegram:
    enabled: true
    chat_id: "42"
`,
	}

	for name, content := range cases {
		if _, err := Load(writeTempConfig(t, content)); err == nil {
			t.Fatalf("%s: 应返回配置错误", name)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	// Point the search path at an empty directory: no file is not an error.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("缺省配置不应报错: %v", err)
	}
	if cfg.App.Name != "homewatcher" {
		t.Fatalf("默认 app.name 错误: %s", cfg.App.Name)
	}
}
