package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"gopkg.in/gomail.v2"

	jobmetrics "github.com/odyssey-erp/odyssey-assets/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault)), nil
}

// Sender delivers a single e-mail.
type Sender interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// MailerConfig holds SMTP settings.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends plain-text mail over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer builds a Mailer. A blank host yields nil, which callers treat as
// "mail disabled".
func NewMailer(cfg MailerConfig) *Mailer {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil
	}
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send delivers msg. gomail does not take a context, so cancellation is only
// checked before dialing.
func (m *Mailer) Send(ctx context.Context, msg SendEmailPayload) error {
	if m == nil {
		return errors.New("mailer: not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	message := gomail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", msg.To)
	message.SetHeader("Subject", msg.Subject)
	message.SetBody("text/plain", msg.Body)
	if err := m.dialer.DialAndSend(message); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", msg.To, err)
	}
	return nil
}

// EmailJob processes TaskTypeSendEmail tasks.
type EmailJob struct {
	Sender  Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewEmailJob constructs the mail handler.
func NewEmailJob(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *EmailJob {
	return &EmailJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle sends the e-mail carried by the task.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		return fmt.Errorf("send email: empty recipient: %w", asynq.SkipRetry)
	}
	if j == nil || j.Sender == nil {
		j.log().Info("mail disabled, dropping message", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
	err := j.Sender.Send(ctx, payload)
	j.metrics().IncNotification("email", err)
	if err != nil {
		j.log().Error("send email", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	j.log().Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

func (j *EmailJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *EmailJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeSendEmail))
	}
	return slog.Default().With(slog.String("job", TaskTypeSendEmail))
}
