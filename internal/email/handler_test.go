package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestHandleSend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		body       string
		mailerErr  error
		wantStatus int
		wantSent   int
	}{
		{
			name:       "sends valid message",
			body:       `{"to":"buyer@example.com","subject":"Order Confirmation","body":"Thanks"}`,
			wantStatus: http.StatusOK,
			wantSent:   1,
		},
		{
			name:       "invalid json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid recipient",
			body:       `{"to":"not-an-address","subject":"x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing subject",
			body:       `{"to":"buyer@example.com"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "provider failure",
			body:       `{"to":"buyer@example.com","subject":"x"}`,
			mailerErr:  errors.New("status 401"),
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &recordingMailer{err: tt.mailerErr}
			h := NewHandler(mailer, logger)

			req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			h.HandleSend(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if len(mailer.sent) != tt.wantSent {
				t.Errorf("expected %d sent, got %d", tt.wantSent, len(mailer.sent))
			}
		})
	}
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "s"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
