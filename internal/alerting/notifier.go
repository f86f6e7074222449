package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification kinds.
const (
	KindPriceSpike     = "price_spike"
	KindHappyHourStart = "happy_hour_start"
)

// Notification describes a pricing event worth telling a human about.
type Notification struct {
	At             time.Time
	Region         string
	Kind           string
	ImportCents    float64
	ThresholdCents float64
	WholesaleCents float64
	ExportCents    float64
}

// Notifier delivers notifications. Implementations are best-effort; a failed
// delivery never fails an update cycle.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify sends the rendered notification via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("at", note.At).
		Str("kind", note.Kind).
		Str("region", note.Region).
		Msg("alert sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindHappyHourStart:
		builder.WriteString("[Flow Power] Happy Hour started\n")
		builder.WriteString(fmt.Sprintf("Region: %s\n", note.Region))
		builder.WriteString(fmt.Sprintf("Export price: %.1f c/kWh\n", note.ExportCents))
	default:
		builder.WriteString("[Flow Power] Import price spike\n")
		builder.WriteString(fmt.Sprintf("Region: %s\n", note.Region))
		builder.WriteString(fmt.Sprintf("Import: %.2f c/kWh (threshold %.2f)\n", note.ImportCents, note.ThresholdCents))
		builder.WriteString(fmt.Sprintf("Wholesale: %.2f c/kWh\n", note.WholesaleCents))
	}
	builder.WriteString(fmt.Sprintf("At: %s\n", note.At.Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
