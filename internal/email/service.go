package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"

	pkgerrors "github.com/pkg/errors"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host:     host,
		port:     port,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

// Send implements notification.Sender. The body is HTML.
func (s *Service) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return pkgerrors.New("email: empty recipient")
	}

	msg := BuildMessage(s.from, to, subject, body)
	addr := net.JoinHostPort(s.host, s.port)
	if err := s.sendMail(addr, nil, s.from, []string{to}, msg); err != nil {
		return pkgerrors.Wrapf(err, "send mail via %s", addr)
	}
	return nil
}

// BuildMessage renders the RFC 5322 message handed to the SMTP server.
func BuildMessage(from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body))
}
