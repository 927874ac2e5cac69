package provider

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

const (
	DriverSMTP      = "smtp"
	defaultSMTPPort = 587
)

type sendMailFunc func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error

// SMTPProvider submits email notifications to a relay, optionally DKIM-signed.
type SMTPProvider struct {
	addr     string
	from     string
	auth     sasl.Client
	signer   *dkim.SignOptions
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPProviderFromConfig reads host, port, username, password, from and
// the optional dkim_domain, dkim_selector and dkim_private_key (PEM) keys.
func NewSMTPProviderFromConfig(cfg domain.ProviderConfig) (*SMTPProvider, error) {
	host := cfg.ConfigString("host")
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	from := cfg.ConfigString("from")
	if !domain.ValidAddress(domain.ChannelEmail, from) {
		return nil, fmt.Errorf("smtp from address %q is invalid", from)
	}

	port := defaultSMTPPort
	switch v := cfg.Config["port"].(type) {
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("smtp port %q is invalid", v)
		}
		port = parsed
	case int:
		port = v
	case float64:
		port = int(v)
	}

	p := &SMTPProvider{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		from:     from,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}

	if username := cfg.ConfigString("username"); username != "" {
		p.auth = sasl.NewPlainClient("", username, cfg.ConfigString("password"))
	}

	if keyPEM := cfg.ConfigString("dkim_private_key"); keyPEM != "" {
		key, err := parseDKIMKey(keyPEM)
		if err != nil {
			return nil, err
		}
		dkimDomain := cfg.ConfigString("dkim_domain")
		if dkimDomain == "" {
			dkimDomain = from[strings.LastIndex(from, "@")+1:]
		}
		selector := cfg.ConfigString("dkim_selector")
		if selector == "" {
			selector = "default"
		}
		p.signer = &dkim.SignOptions{
			Domain:                 dkimDomain,
			Selector:               selector,
			Signer:                 key,
			Hash:                   crypto.SHA256,
			HeaderCanonicalization: dkim.CanonicalizationRelaxed,
			BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		}
	}

	return p, nil
}

func (p *SMTPProvider) ValidateRecipient(address string) bool {
	return domain.ValidAddress(domain.ChannelEmail, address)
}

func (p *SMTPProvider) Send(ctx context.Context, notification domain.Notification) (*ProviderResponse, error) {
	if p == nil || p.sendMail == nil {
		return nil, misconfigured("smtp provider is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Message: "send aborted", Transient: true, Cause: err}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), p.from[strings.LastIndex(p.from, "@")+1:])
	message, err := p.buildMessage(notification, messageID)
	if err != nil {
		return nil, err
	}

	if err := p.sendMail(p.addr, p.auth, p.from, []string{notification.Recipient}, bytes.NewReader(message)); err != nil {
		return nil, classifySMTPError(err)
	}

	return &ProviderResponse{MessageID: messageID}, nil
}

func (p *SMTPProvider) buildMessage(n domain.Notification, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	headers := [][2]string{
		{"From", p.from},
		{"To", n.Recipient},
		{"Subject", mime.QEncoding.Encode("utf-8", n.Subject)},
		{"Date", p.now().UTC().Format(time.RFC1123Z)},
		{"Message-ID", messageID},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=utf-8"},
		{"Content-Transfer-Encoding", "8bit"},
	}
	if n.CorrelationID != "" {
		headers = append(headers, [2]string{"X-Correlation-ID", n.CorrelationID})
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(n.Body, "\r\n", "\n"), "\n", "\r\n"))
	buf.WriteString("\r\n")

	if p.signer == nil {
		return buf.Bytes(), nil
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(buf.Bytes()), p.signer); err != nil {
		return nil, misconfigured("dkim signing failed: %v", err)
	}
	return signed.Bytes(), nil
}

// classifySMTPError treats 5xx replies as permanent and everything else,
// including connection failures and 4xx replies, as transient.
func classifySMTPError(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &ProviderError{
			StatusCode: smtpErr.Code,
			Message:    smtpErr.Message,
			Transient:  smtpErr.Code < 500,
			Cause:      err,
		}
	}
	return &ProviderError{Message: "smtp submission failed", Transient: true, Cause: err}
}

func parseDKIMKey(keyPEM string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("dkim private key is not PEM encoded")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse dkim private key: %w", err)
	}
	switch key := parsed.(type) {
	case *rsa.PrivateKey:
		return key, nil
	case crypto.Signer:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported dkim key type %T", parsed)
	}
}
