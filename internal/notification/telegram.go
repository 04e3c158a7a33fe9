package notification

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/olegiv/bms-telemetry-go/internal/ai"
	internalerrors "github.com/olegiv/bms-telemetry-go/internal/errors"
)

const (
	maxMessageLength = 4096
	// minMessageInterval is the minimum time between messages to the same channel
	minMessageInterval = 1 * time.Second
	// maxRetries is the maximum number of attempts for sending one message
	maxRetries = 3
	// baseRetryDelay is the initial delay between retries (doubles each attempt)
	baseRetryDelay = 2 * time.Second
)

// messageSender is the part of tgbotapi.BotAPI the client uses.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramClient handles Telegram notifications
type TelegramClient struct {
	bot             messageSender
	username        string
	archiveChannel  int64
	alertsChannel   int64
	hostname        string
	lastMessageTime time.Time
	sleep           func(time.Duration)
}

// NewTelegramClient creates a new Telegram client. proxyURL may be empty.
func NewTelegramClient(botToken, proxyURL string, archiveChannel, alertsChannel int64) (*TelegramClient, error) {
	return newTelegramClient(botToken, tgbotapi.APIEndpoint, proxyURL, archiveChannel, alertsChannel)
}

func newTelegramClient(botToken, apiEndpoint, proxyURL string, archiveChannel, alertsChannel int64) (*TelegramClient, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, internalerrors.Wrapf(err, "invalid proxy URL")
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, apiEndpoint, httpClient)
	if err != nil {
		// The bot token is part of the request URL
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &TelegramClient{
		bot:            bot,
		username:       bot.Self.UserName,
		archiveChannel: archiveChannel,
		alertsChannel:  alertsChannel,
		hostname:       hostname,
		sleep:          time.Sleep,
	}, nil
}

// SendRunReport sends the report to the archive channel, and to the alerts
// channel when the run needs attention.
func (t *TelegramClient) SendRunReport(report *RunReport) error {
	message := t.formatMessage(report)

	if err := t.sendToChannel(t.archiveChannel, message); err != nil {
		return fmt.Errorf("failed to send to archive channel: %w", err)
	}

	if t.alertsChannel != 0 && report.NeedsAttention() {
		if err := t.sendToChannel(t.alertsChannel, message); err != nil {
			return fmt.Errorf("failed to send to alerts channel: %w", err)
		}
	}

	return nil
}

// formatMessage renders the report as MarkdownV2.
func (t *TelegramClient) formatMessage(report *RunReport) string {
	const formattedListTemplate = "%d\\. %s\n"

	res := report.Result
	var msg strings.Builder
	line := func(format string, args ...interface{}) {
		msg.WriteString(fmt.Sprintf(format, args...))
	}
	esc := func(format string, args ...interface{}) string {
		return escapeMarkdown(fmt.Sprintf(format, args...))
	}

	ts := report.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	// Header
	msg.WriteString("🔋 *BMS Run Report*\n")
	line("📦 Pack\\: %s\n", escapeMarkdown(report.PackName))
	line("📄 Source\\: %s\n", escapeMarkdown(report.Source))
	line("🖥 Host\\: %s\n", escapeMarkdown(t.hostname))
	line("📅 Date\\: %s\n", escapeMarkdown(ts.Format("2006-01-02 15:04:05 MST")))
	if report.Analysis != nil {
		line("%s *Status\\:* %s\n", report.Analysis.SystemStatus.Emoji(), escapeMarkdown(string(report.Analysis.SystemStatus)))
	}
	msg.WriteString("\n")

	// Series
	msg.WriteString("📋 *Run Stats*\n")
	line("• Records\\: %d\n", res.Stats.Records)
	line("• Skipped blocks\\: %d, dropped\\: %d, clamped SOC\\: %d\n",
		res.Diagnostics.SkippedBlocks, res.Diagnostics.Dropped, res.Diagnostics.ClampedSOC)
	line("• Duration\\: %s\n", escapeMarkdown(res.Stats.Duration()))
	if v := res.Stats.Voltage; v.Count > 0 {
		line("• Voltage\\: %s\n", esc("avg %.2fV, min %.2fV, max %.2fV", v.Avg, v.Min, v.Max))
	}
	if c := res.Stats.Current; c.Count > 0 {
		line("• Current\\: %s\n", esc("avg %.2fA, peak %.2fA", c.Avg, c.MaxAbs))
	}
	if s := res.Stats.SOC; s.Count > 0 {
		line("• SOC\\: %s\n", esc("avg %.1f%%, min %.1f%%", s.Avg, s.Min))
	}
	msg.WriteString("\n")

	// Energy and cost
	msg.WriteString("⚡ *Energy*\n")
	line("• Net\\: %s\n", esc("%.3f kWh", res.Energy.NetKWh))
	line("• Charged\\: %s\n", esc("%.3f kWh", res.Energy.ChargedKWh))
	line("• Discharged\\: %s\n", esc("%.3f kWh", res.Energy.DischargedKWh))
	line("• Efficiency\\: %s\n", esc("%.1f%%", res.Energy.EfficiencyPercent))
	if res.Runtime.UnitPrice > 0 {
		line("• Runtime\\: %s\n", esc("%.2f h", res.Runtime.TotalHours))
		line("• Cost\\: %s\n", esc("%.2f (%.2f per hour at %.4f per kWh)",
			res.Runtime.TotalCost, res.Runtime.CostPerHour, res.Runtime.UnitPrice))
	}
	msg.WriteString("\n")

	if cs := res.CellStats; cs != nil {
		msg.WriteString("🔬 *Cells*\n")
		line("• Voltage\\: %s\n", esc("%.3f to %.3f V over %d cells", cs.MinVoltage, cs.MaxVoltage, cs.CellCount))
		line("• Max imbalance\\: %s\n", esc("%.3f V", cs.MaxImbalance))
		if cs.SensorCount > 0 {
			line("• Temperature\\: %s\n", esc("%.1f to %.1f °C", cs.MinTemperature, cs.MaxTemperature))
		}
		msg.WriteString("\n")
	}

	if len(res.Alerts) > 0 {
		line("🚨 *Alerts* \\(%d\\)\n", len(res.Alerts))
		for i, a := range res.Alerts {
			line(formattedListTemplate, i+1, escapeMarkdown(a.Message))
		}
		msg.WriteString("\n")
	}

	if report.Analysis != nil {
		t.formatAnalysis(&msg, report.Analysis, report.AIStats)
	}

	return msg.String()
}

// formatAnalysis appends the AI sections.
func (t *TelegramClient) formatAnalysis(msg *strings.Builder, analysis *ai.Analysis, stats *ai.Stats) {
	const formattedListTemplate = "%d\\. %s\n"

	list := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		msg.WriteString(fmt.Sprintf("%s \\(%d\\)\n", header, len(items)))
		for i, item := range items {
			msg.WriteString(fmt.Sprintf(formattedListTemplate, i+1, escapeMarkdown(item)))
		}
		msg.WriteString("\n")
	}

	msg.WriteString("📊 *AI Summary*\n")
	msg.WriteString(escapeMarkdown(analysis.Summary))
	msg.WriteString("\n\n")

	list("🔴 *Critical Issues*", analysis.CriticalIssues)
	list("⚠️ *Warnings*", analysis.Warnings)
	list("💡 *Recommendations*", analysis.Recommendations)

	if entries := analysis.Metrics.Entries(); len(entries) > 0 {
		msg.WriteString("📈 *Key Metrics*\n")
		for _, e := range entries {
			msg.WriteString(fmt.Sprintf("• %s\\: %s\n", escapeMarkdown(e.Label), escapeMarkdown(e.Value)))
		}
		msg.WriteString("\n")
	}

	if stats != nil {
		msg.WriteString(fmt.Sprintf("🤖 AI cost\\: %s, duration\\: %s\n",
			escapeMarkdown(fmt.Sprintf("$%.4f", stats.CostUSD)),
			escapeMarkdown(fmt.Sprintf("%.2fs", stats.DurationSeconds))))
	}
}

// sendToChannel splits and sends a message, keeping minMessageInterval
// between consecutive sends.
func (t *TelegramClient) sendToChannel(channelID int64, message string) error {
	for _, part := range t.splitMessage(message) {
		t.waitForRateLimit()

		msgConfig := tgbotapi.NewMessage(channelID, part)
		msgConfig.ParseMode = "MarkdownV2"

		if err := t.sendWithRetry(msgConfig); err != nil {
			return err
		}

		t.lastMessageTime = time.Now()
	}

	return nil
}

func (t *TelegramClient) waitForRateLimit() {
	if t.lastMessageTime.IsZero() {
		return
	}

	if elapsed := time.Since(t.lastMessageTime); elapsed < minMessageInterval {
		t.sleep(minMessageInterval - elapsed)
	}
}

// sendWithRetry sends a message with exponential backoff retry. A 429
// waits for the server's retry_after instead.
func (t *TelegramClient) sendWithRetry(msgConfig tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msgConfig)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}

		if isRateLimitError(err) {
			t.sleep(time.Duration(extractRetryAfter(err)) * time.Second)
			continue
		}

		t.sleep(baseRetryDelay * time.Duration(1<<(attempt-1))) // 2s, 4s, 8s...
	}

	return internalerrors.Wrapf(lastErr, "failed to send message after %d retries", maxRetries)
}

// isRateLimitError checks if the error is a Telegram rate limit error (429)
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && (tgErr.Code == http.StatusTooManyRequests || tgErr.RetryAfter > 0) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests")
}

// extractRetryAfter returns the server's retry_after in seconds, or 30
// when it cannot be found.
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return tgErr.RetryAfter
	}

	// Example: "Too Many Requests: retry after 30"
	errStr := err.Error()
	if idx := strings.Index(strings.ToLower(errStr), "retry after "); idx != -1 {
		var seconds int
		if _, err := fmt.Sscanf(errStr[idx+len("retry after "):], "%d", &seconds); err == nil {
			return seconds
		}
	}

	return 30
}

// splitMessage splits a long message on line boundaries; a single line
// longer than the limit is cut into chunks.
func (t *TelegramClient) splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	var currentMsg strings.Builder

	for _, line := range strings.Split(message, "\n") {
		if currentMsg.Len()+len(line)+1 > maxMessageLength {
			if currentMsg.Len() > 0 {
				messages = append(messages, currentMsg.String())
				currentMsg.Reset()
			}

			if len(line) > maxMessageLength {
				for i := 0; i < len(line); i += maxMessageLength {
					end := min(i+maxMessageLength, len(line))
					messages = append(messages, line[i:end])
				}
				continue
			}
		}

		currentMsg.WriteString(line)
		currentMsg.WriteString("\n")
	}

	if currentMsg.Len() > 0 {
		messages = append(messages, currentMsg.String())
	}

	return messages
}

// markdownEscaper escapes MarkdownV2 special characters.
// See: https://core.telegram.org/bots/api#markdownv2-style
var markdownEscaper = func() *strings.Replacer {
	specialChars := []string{
		"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", ":",
	}
	pairs := make([]string, 0, len(specialChars)*2)
	for _, c := range specialChars {
		pairs = append(pairs, c, "\\"+c)
	}
	return strings.NewReplacer(pairs...)
}()

func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

// GetBotInfo returns information about the bot
func (t *TelegramClient) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username":        t.username,
		"archive_channel": t.archiveChannel,
		"alerts_channel":  t.alertsChannel,
		"hostname":        t.hostname,
	}
}

// Close releases the client. Nothing is held open between sends.
func (t *TelegramClient) Close() error {
	return nil
}
