package notification

import (
	"context"
	"strings"
	"testing"
)

func newTestManager() (*Manager, *MockEmailSender, *MockSMSSender) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	return NewManager(email, sms, NewTemplateEngine()), email, sms
}

func TestSendEmail(t *testing.T) {
	mgr, email, _ := newTestManager()

	n := &Notification{
		Type:      TypeEmail,
		Recipient: "clinic@example.com",
		Subject:   "Access request approved",
		Body:      "approved",
	}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n.Status != "sent" || n.SentAt == nil {
		t.Fatalf("notification = %+v", n)
	}
	if calls := email.Calls(); len(calls) != 1 || calls[0].To != "clinic@example.com" {
		t.Fatalf("email calls = %v", calls)
	}
}

func TestSendFromAuthorizationRequestTemplate(t *testing.T) {
	mgr, email, _ := newTestManager()

	n, err := mgr.SendFromTemplate(context.Background(), TemplateAuthorizationRequest, map[string]string{
		"patient_name": "Ada",
		"organization": "Northside Clinic",
		"scopes":       "viewMedicalHistory",
		"deadline":     "2026-09-01",
	}, "ada@example.com")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !strings.Contains(n.Subject, "Northside Clinic") {
		t.Errorf("subject = %q", n.Subject)
	}
	if !strings.Contains(n.Body, "viewMedicalHistory") {
		t.Errorf("body = %q", n.Body)
	}
	// Push falls back to email delivery.
	if len(email.Calls()) != 1 {
		t.Errorf("email calls = %d", len(email.Calls()))
	}
}

func TestSendFromUnknownTemplate(t *testing.T) {
	mgr, _, _ := newTestManager()

	if _, err := mgr.SendFromTemplate(context.Background(), "no-such-template", nil, "x@example.com"); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	eng := NewTemplateEngine()

	_, body, err := eng.Render(TemplateGrantRevoked, map[string]string{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "{{grant_id}}") {
		t.Errorf("body = %q, want untouched placeholder", body)
	}
}

func TestRetryFailedNotification(t *testing.T) {
	mgr, email, _ := newTestManager()
	email.ShouldFail = true
	email.FailError = "smtp down"

	n := &Notification{Type: TypeEmail, Recipient: "x@example.com", Subject: "s", Body: "b"}
	if err := mgr.Send(context.Background(), n); err == nil {
		t.Fatal("expected send failure")
	}
	if n.Status != "failed" {
		t.Fatalf("status = %s", n.Status)
	}

	email.ShouldFail = false
	if err := mgr.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	stored, err := mgr.GetNotification(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != "sent" || stored.Error != "" {
		t.Fatalf("after retry = %+v", stored)
	}
}

func TestRetryRejectsSentNotification(t *testing.T) {
	mgr, _, _ := newTestManager()

	n := &Notification{Type: TypeEmail, Recipient: "x@example.com", Subject: "s", Body: "b"}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := mgr.Retry(context.Background(), n.ID); err == nil {
		t.Fatal("expected error retrying a sent notification")
	}
}

func TestSendSMS(t *testing.T) {
	mgr, _, sms := newTestManager()

	n := &Notification{Type: TypeSMS, Recipient: "+15550100", Body: "your request was approved"}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls := sms.Calls(); len(calls) != 1 || calls[0].To != "+15550100" {
		t.Fatalf("sms calls = %v", calls)
	}
}

func TestStats(t *testing.T) {
	mgr, email, _ := newTestManager()

	mgr.Send(context.Background(), &Notification{Type: TypeEmail, Recipient: "a@x.com", Body: "b"})
	email.ShouldFail = true
	email.FailError = "down"
	mgr.Send(context.Background(), &Notification{Type: TypeEmail, Recipient: "b@x.com", Body: "b"})

	stats := mgr.Stats(context.Background())
	if stats["sent"] != 1 || stats["failed"] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}
