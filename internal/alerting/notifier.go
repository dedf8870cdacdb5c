package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"power-env-alerts/internal/detector"
)

// Notification 封装一次事件变更的告警上下文。
type Notification struct {
	Event    detector.Event
	Action   detector.ChangeKind
	Channels []string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().
		Str("rule", string(note.Event.Rule)).
		Str("severity", note.Event.Severity.String()).
		Str("action", note.Action.String()).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier 将告警写入结构化日志，用于未配置外部通道的场景。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify writes the rendered alert at warn or error level depending on
// event severity.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	evt := n.logger.Warn()
	if note.Event.Severity == detector.SeverityAlert {
		evt = n.logger.Error()
	}
	evt.Str("rule", string(note.Event.Rule)).
		Str("action", note.Action.String()).
		Time("start", note.Event.Start).
		Msg(RenderMessage(note))
	return nil
}

// RenderMessage formats one event change as the multi-line alert text.
// Info keys render sorted so messages are stable.
func RenderMessage(note Notification) string {
	ev := note.Event

	builder := strings.Builder{}
	builder.WriteString("[Homewatcher Alert]\n")
	builder.WriteString(fmt.Sprintf("Rule: %s\n", ev.Rule))
	builder.WriteString(fmt.Sprintf("Action: %s\n", note.Action))
	builder.WriteString(fmt.Sprintf("Severity: %s\n", ev.Severity))
	builder.WriteString(fmt.Sprintf("Start: %s UTC\n", ev.Start.UTC().Format(time.RFC3339)))
	if ev.End != nil {
		builder.WriteString(fmt.Sprintf("End: %s UTC\n", ev.End.UTC().Format(time.RFC3339)))
	}

	if len(ev.Info) > 0 {
		keys := make([]string, 0, len(ev.Info))
		for k := range ev.Info {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, strconv.FormatFloat(ev.Info[k], 'f', -1, 64)))
		}
		builder.WriteString(fmt.Sprintf("Detail: %s\n", strings.Join(parts, " ")))
	}

	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
