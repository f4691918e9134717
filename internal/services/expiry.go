package services

import (
	"context"
	"time"

	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

// orderLifetime is how long a gateway order stays payable. It ends a
// quarter of pendingTTL before the sweeper may look at the intent, so the
// gateway has closed the order and late callbacks have arrived by then.
func orderLifetime(pendingTTL time.Duration) time.Duration {
	return pendingTTL - pendingTTL/4
}

type orderCheck int

const (
	orderOpen orderCheck = iota
	orderPaid
	orderClosed
)

func (c orderCheck) String() string {
	switch c {
	case orderPaid:
		return "paid"
	case orderClosed:
		return "closed"
	default:
		return "open"
	}
}

// checkOrder asks the gateway whether a Pending intent's order can still be
// paid. Intents without an order token, or opened on another gateway, are
// reported closed since there is nothing left to ask.
func checkOrder(ctx context.Context, gw gateway.OrderGateway, p *models.PaymentIntent) (orderCheck, *gateway.OrderStatus, error) {
	if p.ExternalOrderToken == "" || gw == nil || p.Gateway != gw.Name() {
		return orderClosed, nil, nil
	}
	status, err := gw.QueryOrder(ctx, p.ExternalOrderToken)
	if err != nil {
		return orderOpen, nil, err
	}
	switch {
	case status.Paid:
		return orderPaid, status, nil
	case status.Closed:
		return orderClosed, status, nil
	default:
		return orderOpen, status, nil
	}
}
