package twofactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
	"github.com/redis/go-redis/v9"
)

type mockSender struct {
	lastCode string
	result   *model.DeliveryResult
	err      error
}

func (m *mockSender) SendVerificationEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return nil, errors.New("unexpected call")
}

func (m *mockSender) SendResetEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return nil, errors.New("unexpected call")
}

func (m *mockSender) SendTwoFactorEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	m.lastCode = token
	return m.result, m.err
}

func newTestService(t *testing.T) (*Service, *token.Ledger, *mockSender) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ledger := token.NewLedger(rdb, time.Hour)
	sender := &mockSender{result: &model.DeliveryResult{Accepted: []string{"a@b.com"}}}
	return NewService(ledger, sender, metrics.Nop{}), ledger, sender
}

func TestSendCode_ThenValidate(t *testing.T) {
	ctx := context.Background()
	svc, _, sender := newTestService(t)

	if err := svc.SendCode(ctx, "a@b.com"); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}
	if len(sender.lastCode) != 6 {
		t.Fatalf("code = %q, want 6 digits", sender.lastCode)
	}

	ok, err := svc.ValidateCode(ctx, "a@b.com", sender.lastCode)
	if err != nil {
		t.Fatalf("ValidateCode() error = %v", err)
	}
	if !ok {
		t.Error("ValidateCode() = false, want true")
	}

	// 消費済み
	if _, err := svc.ValidateCode(ctx, "a@b.com", sender.lastCode); !errors.Is(err, model.ErrTokenNotFound) {
		t.Errorf("second ValidateCode() error = %v, want TOKEN_NOT_FOUND", err)
	}
}

func TestSendCode_DeliveryFailure(t *testing.T) {
	svc, _, sender := newTestService(t)
	sender.result = nil
	sender.err = errors.New("connection refused")

	err := svc.SendCode(context.Background(), "a@b.com")
	if !errors.Is(err, model.ErrNotificationFailed) {
		t.Errorf("SendCode() error = %v, want NOTIFICATION_FAILED", err)
	}
}

func TestValidateCode_NoCode(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ValidateCode(context.Background(), "a@b.com", "123456")
	if !errors.Is(err, model.ErrTokenNotFound) {
		t.Errorf("ValidateCode() error = %v, want TOKEN_NOT_FOUND", err)
	}
}

func TestValidateCode_WrongCode_KeepsToken(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService(t)

	tok, err := ledger.Issue(ctx, "a@b.com", model.TokenTwoFactor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	wrong := "100000"
	if tok.Value == wrong {
		wrong = "100001"
	}

	_, err = svc.ValidateCode(ctx, "a@b.com", wrong)
	if !errors.Is(err, model.ErrInvalidCode) {
		t.Errorf("ValidateCode() error = %v, want INVALID_CODE", err)
	}

	ok, err := svc.ValidateCode(ctx, "a@b.com", tok.Value)
	if err != nil || !ok {
		t.Errorf("ValidateCode() = %v, %v, want true, nil", ok, err)
	}
}

func TestValidateCode_Expired(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService(t)

	tok, err := ledger.Issue(ctx, "a@b.com", model.TokenTwoFactor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	svc.now = func() time.Time { return tok.ExpiresAt.Add(time.Minute) }

	_, err = svc.ValidateCode(ctx, "a@b.com", tok.Value)
	if !errors.Is(err, model.ErrTokenExpired) {
		t.Errorf("ValidateCode() error = %v, want TOKEN_EXPIRED", err)
	}
}

func TestValidateCode_WrongAndExpired_ReportsWrongCode(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService(t)

	tok, err := ledger.Issue(ctx, "a@b.com", model.TokenTwoFactor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	svc.now = func() time.Time { return tok.ExpiresAt.Add(time.Minute) }

	_, err = svc.ValidateCode(ctx, "a@b.com", "not-it")
	if !errors.Is(err, model.ErrInvalidCode) {
		t.Errorf("ValidateCode() error = %v, want INVALID_CODE", err)
	}
}

func TestNewService_NilMetrics_DoesNotPanic(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sender := &mockSender{result: &model.DeliveryResult{Accepted: []string{"a@b.com"}}}
	svc := NewService(token.NewLedger(rdb, time.Hour), sender, nil)

	if err := svc.SendCode(context.Background(), "a@b.com"); err != nil {
		t.Errorf("SendCode() error = %v", err)
	}
}
