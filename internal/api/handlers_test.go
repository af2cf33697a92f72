package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vpnmarket/payment-service/internal/app"
	"github.com/vpnmarket/payment-service/internal/domain"
	"github.com/vpnmarket/payment-service/internal/store"
)

type singleOrderRepoStub struct {
	store.Repository
	order *domain.Order
}

func (s *singleOrderRepoStub) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	cp := *s.order
	return &cp, nil
}

type denyAllLimiter struct {
	retryAfter int
}

func (l *denyAllLimiter) Allow(ctx context.Context, userID string, limit int, window time.Duration) (bool, int, error) {
	return false, l.retryAfter, nil
}

func TestSubmitPaymentHandlerMapsRateLimitToRetryAfter(t *testing.T) {
	order := &domain.Order{ID: uuid.New(), UserID: uuid.New(), State: domain.OrderStateAwaitingPayment}
	repo := &singleOrderRepoStub{order: order}
	service := app.NewService(repo, nil, nil, nil, nil, &denyAllLimiter{retryAfter: 17}, app.ServiceConfig{
		SubmitRateLimit: 1,
	})
	router := OrderRoutes(NewOrderHandlers(service), "")

	req := httptest.NewRequest(http.MethodPost, "/orders/"+order.ID.String()+"/payment", strings.NewReader(`{"proof_reference":"REF123"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "17" {
		t.Fatalf("expected Retry-After header 17, got %q", got)
	}
}
