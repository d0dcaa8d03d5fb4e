package razorpay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	rzp "github.com/razorpay/razorpay-go"

	"github.com/ademajagon/dynamic-app/internal/app"
)

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Gateway talks to the Razorpay REST API. The SDK is blocking and has no
// context support, so cancellation is only checked before each call.
type Gateway struct {
	orders   orderAPI
	payments paymentAPI
	log      *slog.Logger
}

func NewGateway(keyID, keySecret string, log *slog.Logger) *Gateway {
	client := rzp.NewClient(keyID, keySecret)
	return &Gateway{orders: client.Order, payments: client.Payment, log: log}
}

var _ app.Gateway = (*Gateway)(nil)

func (g *Gateway) CreateOrder(ctx context.Context, o app.GatewayOrder) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := map[string]interface{}{
		"amount":   o.Amount,
		"currency": o.Currency,
		"receipt":  o.Receipt,
	}
	if o.Description != "" {
		data["description"] = o.Description
	}
	if o.Notes != "" {
		data["notes"] = map[string]interface{}{"notes": o.Notes}
	}

	body, err := g.orders.Create(data, nil)
	if err != nil {
		return "", fmt.Errorf("razorpay create order: %w", err)
	}

	id, _ := body["id"].(string)
	if id == "" {
		return "", errors.New("razorpay create order: response has no order id")
	}
	g.log.DebugContext(ctx, "razorpay order created", "order_id", id, "receipt", o.Receipt)
	return id, nil
}

func (g *Gateway) PaymentMethod(ctx context.Context, paymentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := g.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return "", fmt.Errorf("razorpay fetch payment: %w", err)
	}
	method, _ := body["method"].(string)
	return method, nil
}

func (g *Gateway) Refund(ctx context.Context, paymentID string, amount int64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := map[string]interface{}{
		"notes": map[string]interface{}{"reason": reason},
	}
	body, err := g.payments.Refund(paymentID, int(amount), data, nil)
	if err != nil {
		return fmt.Errorf("razorpay refund: %w", err)
	}
	g.log.InfoContext(ctx, "razorpay refund created", "payment_id", paymentID, "refund_id", body["id"])
	return nil
}
