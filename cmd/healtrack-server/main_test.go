package main

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healtrack/healtrack/internal/config"
	"github.com/healtrack/healtrack/internal/platform/db"
	"github.com/healtrack/healtrack/internal/platform/mailer"
)

func TestNewMailer_LogsWithoutRelay(t *testing.T) {
	m, err := newMailer(&config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SendEmail(context.Background(), mailer.Message{To: "ana@hospital.test", Subject: "x"}); err != nil {
		t.Errorf("expected logging sender to accept the message, got %v", err)
	}
}

func TestNewMailer_RejectsBadFrom(t *testing.T) {
	cfg := &config.Config{SMTPHost: "smtp.test", SMTPPort: 587, MailFrom: "not an address"}
	if _, err := newMailer(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid MAIL_FROM")
	}
}

func TestNewMailer_SMTP(t *testing.T) {
	cfg := &config.Config{SMTPHost: "smtp.test", SMTPPort: 587, MailFrom: "HealTrack <no-reply@healtrack.local>"}
	if _, err := newMailer(cfg, zerolog.Nop()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewTxRunner_DefaultsToNoTx(t *testing.T) {
	if _, ok := newTxRunner(&config.Config{}, nil).(db.NoTx); !ok {
		t.Error("expected db.NoTx when transactional send is off")
	}
	if _, ok := newTxRunner(&config.Config{ChatTransactionalSend: true}, nil).(*db.PoolTxRunner); !ok {
		t.Error("expected a pool transaction runner when transactional send is on")
	}
}

func TestCorsConfig(t *testing.T) {
	c := corsConfig([]string{"http://localhost:3000"})
	if len(c.AllowOrigins) != 1 || c.AllowOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected origins %v", c.AllowOrigins)
	}
	found := false
	for _, m := range c.AllowMethods {
		if m == http.MethodPatch {
			found = true
		}
	}
	if !found {
		t.Error("expected PATCH to be allowed")
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		want []string
	}{
		{migrateCmd(), []string{"status", "up"}},
		{notificationsCmd(), []string{"purge"}},
	}
	for _, tt := range tests {
		var got []string
		for _, c := range tt.cmd.Commands() {
			got = append(got, c.Name())
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("%s: expected subcommands %v, got %v", tt.cmd.Name(), tt.want, got)
		}
	}
	if serveCmd().RunE == nil {
		t.Error("expected serve to have a run function")
	}
}
