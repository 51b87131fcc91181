package email

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"

	"github.com/sakashimaa/media-store/pkg/config"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/services/notification/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, email *domain.Email) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpSender struct {
	from     string
	user     string
	password string
	host     string
	port     string
	sendMail sendMailFunc
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) Sender {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}

	return &smtpSender{
		from:     from,
		user:     cfg.User,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		sendMail: smtp.SendMail,
		logger:   logger,
		tracer:   otel.Tracer("notification/infrastructure/email"),
	}
}

func (s *smtpSender) Send(ctx context.Context, email *domain.Email) error {
	ctx, span := s.tracer.Start(ctx, "smtp.Send")
	defer span.End()

	span.SetAttributes(attribute.String("email.subject", email.Subject))

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}

	mylogger.Info(ctx, s.logger, "Sending email", zap.String("to", email.To), zap.String("subject", email.Subject))

	addr := net.JoinHostPort(s.host, s.port)
	if err := s.sendMail(addr, auth, s.from, []string{email.To}, s.buildMessage(email)); err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending email",
			zap.String("to", email.To),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Sent email successfully", zap.String("to", email.To))
	return nil
}

func (s *smtpSender) buildMessage(email *domain.Email) []byte {
	var b strings.Builder

	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + email.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", email.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(email.HTMLBody)

	return []byte(b.String())
}
