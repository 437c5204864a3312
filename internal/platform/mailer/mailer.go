// Package mailer delivers outbound email: an SMTP sender for production, a
// logging sender for environments without a relay, templates rendered with
// text/template and html/template, and a recording test double.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/rs/zerolog"

	"github.com/healtrack/healtrack/internal/platform/metrics"
)

// Message is one outbound email with plain text and optional HTML bodies.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Message) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template is a named subject/text/HTML triple. HTML is rendered with
// html/template so user-supplied fields are escaped.
type Template struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// TemplateEngine holds the registered mail templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{templates: make(map[string]*Template)}
}

// Register parses and stores a template. html may be empty.
func (e *TemplateEngine) Register(id, subject, text, html string) error {
	t := &Template{}
	var err error
	if t.subject, err = texttemplate.New(id + ".subject").Option("missingkey=zero").Parse(subject); err != nil {
		return fmt.Errorf("parse %s subject: %w", id, err)
	}
	if t.text, err = texttemplate.New(id + ".text").Option("missingkey=zero").Parse(text); err != nil {
		return fmt.Errorf("parse %s text: %w", id, err)
	}
	if html != "" {
		if t.html, err = htmltemplate.New(id + ".html").Option("missingkey=zero").Parse(html); err != nil {
			return fmt.Errorf("parse %s html: %w", id, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[id] = t
	return nil
}

// MustRegister is Register for package-level templates known to parse.
func (e *TemplateEngine) MustRegister(id, subject, text, html string) {
	if err := e.Register(id, subject, text, html); err != nil {
		panic(err)
	}
}

// Render builds a Message for recipient from template id.
func (e *TemplateEngine) Render(id, to string, data any) (Message, error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("template %q not found", id)
	}

	msg := Message{To: to}
	var buf bytes.Buffer
	if err := t.subject.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", id, err)
	}
	msg.Subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := t.text.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", id, err)
	}
	msg.Text = buf.String()

	if t.html != nil {
		buf.Reset()
		if err := t.html.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("render %s html: %w", id, err)
		}
		msg.HTML = buf.String()
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// LogSender only logs the message. Used when no SMTP relay is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, msg Message) error {
	s.Logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("mail relay not configured; message logged only")
	return nil
}

type instrumented struct {
	next EmailSender
}

// Instrument counts successful and failed sends.
func Instrument(next EmailSender) EmailSender {
	return instrumented{next: next}
}

func (s instrumented) SendEmail(ctx context.Context, msg Message) error {
	if err := s.next.SendEmail(ctx, msg); err != nil {
		metrics.MailSent.WithLabelValues("error").Inc()
		return err
	}
	metrics.MailSent.WithLabelValues("ok").Inc()
	return nil
}

// ---------------------------------------------------------------------------
// Mock sender (test double)
// ---------------------------------------------------------------------------

// MockEmailSender records calls. FailFor makes sends to specific addresses
// fail; ShouldFail fails all of them.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []Message
	ShouldFail bool
	FailError  string
	FailFor    map[string]error
}

func (m *MockEmailSender) SendEmail(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	if err, ok := m.FailFor[msg.To]; ok {
		return err
	}
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded messages.
func (m *MockEmailSender) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
