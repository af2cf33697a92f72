package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vpnmarket/payment-service/internal/domain"
)

// scriptedLimiter returns a fixed verdict and records its calls.
type scriptedLimiter struct {
	allowed    bool
	retryAfter int
	err        error
	calls      int
}

func (l *scriptedLimiter) Allow(ctx context.Context, userID string, limit int, window time.Duration) (bool, int, error) {
	l.calls++
	return l.allowed, l.retryAfter, l.err
}

func TestSubmitPaymentRejectedWhenOverLimit(t *testing.T) {
	limiter := &scriptedLimiter{allowed: false, retryAfter: 42}
	mem := newMemRepo()
	f := buildFixture(t, mem, mem, limiter)

	ctx := context.Background()
	order, _, err := f.service.CreateOrder(ctx, domain.CreateOrderRequest{UserID: uuid.New(), Amount: 500000})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = f.service.SubmitPayment(ctx, order.ID, domain.SubmitPaymentRequest{ProofReference: "REF123"})
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected a RateLimitedError, got %v", err)
	}
	if limited.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry-after 42, got %d", limited.RetryAfterSeconds)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected one limiter call, got %d", limiter.calls)
	}

	// A throttled submission must not transition the order.
	current, _ := f.repo.FindOrderByID(ctx, order.ID)
	if current.State != domain.OrderStateAwaitingPayment {
		t.Fatalf("throttled submission must leave the order untouched, got %s", current.State)
	}
}

func TestRedisRateLimiterDisabledGuards(t *testing.T) {
	ctx := context.Background()

	var nilLimiter *RedisRateLimiter
	if allowed, _, err := nilLimiter.Allow(ctx, "user-1", 5, time.Minute); !allowed || err != nil {
		t.Fatalf("a nil limiter must allow, got allowed=%t err=%v", allowed, err)
	}

	limiter := NewRedisRateLimiter(nil, "")
	if allowed, _, err := limiter.Allow(ctx, "user-1", 5, time.Minute); !allowed || err != nil {
		t.Fatalf("a limiter without a client must allow, got allowed=%t err=%v", allowed, err)
	}
	if allowed, _, err := limiter.Allow(ctx, "user-1", 0, time.Minute); !allowed || err != nil {
		t.Fatalf("a zero limit must disable the check, got allowed=%t err=%v", allowed, err)
	}
	if allowed, _, err := limiter.Allow(ctx, "  ", 5, time.Minute); !allowed || err != nil {
		t.Fatalf("a blank subject must not be limited, got allowed=%t err=%v", allowed, err)
	}
}

func TestSubmitPaymentFailsOpenWhenLimiterUnavailable(t *testing.T) {
	limiter := &scriptedLimiter{err: errors.New("redis: connection refused")}
	mem := newMemRepo()
	f := buildFixture(t, mem, mem, limiter)

	ctx := context.Background()
	order, _, err := f.service.CreateOrder(ctx, domain.CreateOrderRequest{UserID: uuid.New(), Amount: 500000})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	submitted, err := f.service.SubmitPayment(ctx, order.ID, domain.SubmitPaymentRequest{ProofReference: "REF123"})
	if err != nil {
		t.Fatalf("a broken limiter must not block payments, got %v", err)
	}
	if submitted.State != domain.OrderStatePendingVerification {
		t.Fatalf("expected pending_verification, got %s", submitted.State)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected one limiter call, got %d", limiter.calls)
	}
}
