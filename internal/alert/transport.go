package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sync"
)

// Message is one plain-text mail addressed to exactly one recipient.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Transport delivers a message over an authenticated, encrypted session.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPTransport delivers mail over SMTP with STARTTLS and PLAIN auth.
type SMTPTransport struct {
	addr     string
	host     string
	username string
	password string
}

// NewSMTPTransport creates a transport for the given host:port using the
// configured sender credentials.
func NewSMTPTransport(addr, host, username, password string) *SMTPTransport {
	return &SMTPTransport{
		addr:     addr,
		host:     host,
		username: username,
		password: password,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dialing mail server: %w", err)
	}

	// Bound the whole SMTP conversation by the context deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening mail session: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
		return fmt.Errorf("starting TLS: %w", err)
	}

	auth := smtp.PlainAuth("", t.username, t.password, t.host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("setting recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("opening message body: %w", err)
	}
	if _, err := fmt.Fprintf(w, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		msg.From, msg.To, msg.Subject, msg.Body); err != nil {
		w.Close()
		return fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}

// RecordingTransport captures sent messages for tests. If Err is set,
// every Send fails with it.
type RecordingTransport struct {
	mu   sync.Mutex
	Err  error
	sent []Message
}

func (t *RecordingTransport) Send(_ context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (t *RecordingTransport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.sent))
	copy(out, t.sent)
	return out
}
