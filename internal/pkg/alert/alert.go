package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/pricing_server/config"
)

// 告警级别
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert 需要运维介入的事件，例如扣款成功但落库失败
type Alert struct {
	Severity       string
	Title          string
	SubscriptionID int64
	Reservation    string
	Detail         string
	Fields         map[string]interface{}
	At             time.Time
}

// Alerter 运维告警出口
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// LogAlerter 只写日志，未配置 SMTP 时使用
type LogAlerter struct{}

func (LogAlerter) Send(_ context.Context, a Alert) error {
	entry := logrus.WithFields(logrus.Fields{
		"severity":        a.Severity,
		"subscription_id": a.SubscriptionID,
		"reservation":     a.Reservation,
	})
	if len(a.Fields) > 0 {
		entry = entry.WithFields(logrus.Fields(a.Fields))
	}
	entry.Error(a.Title + ": " + a.Detail)
	return nil
}

// Mailer 通过 SMTP 发送告警邮件
type Mailer struct {
	cfg  *config.AlertConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg *config.AlertConfig) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail}
}

// New 根据配置选择告警出口
func New(cfg *config.AlertConfig) Alerter {
	if cfg == nil || cfg.SMTPHost == "" || len(cfg.Recipients) == 0 {
		return LogAlerter{}
	}
	return NewMailer(cfg)
}

func (m *Mailer) Send(_ context.Context, a Alert) error {
	// 邮件发不出去时至少留一条日志
	_ = LogAlerter{}.Send(context.Background(), a)

	subject := fmt.Sprintf("[billing][%s] %s", a.Severity, a.Title)
	msg := buildMessage(m.cfg.From, m.cfg.Recipients, subject, FormatBody(a))

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)

	if err := m.send(addr, auth, m.cfg.From, m.cfg.Recipients, msg); err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}
	return nil
}

// FormatBody 生成纯文本告警正文
func FormatBody(a Alert) string {
	var b strings.Builder
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	fmt.Fprintf(&b, "time: %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "severity: %s\n", a.Severity)
	if a.SubscriptionID != 0 {
		fmt.Fprintf(&b, "subscription: %d\n", a.SubscriptionID)
	}
	if a.Reservation != "" {
		fmt.Fprintf(&b, "reservation: %s\n", a.Reservation)
	}

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, a.Fields[k])
	}

	b.WriteString("\n")
	b.WriteString(a.Detail)
	b.WriteString("\n")
	return b.String()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}
