package webhook

import (
	"net/http"

	"github.com/spf13/cast"
)

// PayPalParser handles PayPal webhook notifications for Orders v2 and
// Payouts.
type PayPalParser struct{}

func (PayPalParser) Provider() string { return "paypal" }

func (p PayPalParser) Parse(_ http.Header, body []byte) (*Delivery, error) {
	payload, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	tag := cast.ToString(payload["event_type"])
	if tag == "" {
		return nil, malformed("notification without event_type")
	}
	resource, err := cast.ToStringMapE(payload["resource"])
	if err != nil || len(resource) == 0 {
		return nil, malformed("%s without resource", tag)
	}

	d := &Delivery{Provider: p.Provider(), EventID: cast.ToString(payload["id"]), Tag: tag}
	id := cast.ToString(resource["id"])

	switch tag {
	case "CHECKOUT.ORDER.APPROVED":
		if id == "" {
			return nil, malformed("%s without order id", tag)
		}
		d.Event = OrderApproved{OrderToken: id}
	case "CHECKOUT.ORDER.VOIDED":
		if id == "" {
			return nil, malformed("%s without order id", tag)
		}
		d.Event = OrderAbandoned{OrderToken: id, Reason: "order voided"}
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED":
		orderID := relatedOrderID(resource)
		if orderID == "" {
			return nil, malformed("%s without related order id", tag)
		}
		if tag == "PAYMENT.CAPTURE.DENIED" {
			d.Event = OrderFailed{OrderToken: orderID, Reason: "capture denied"}
			break
		}
		amount := cast.ToStringMap(resource["amount"])
		value, err := decimalField(amount["value"])
		if err != nil {
			return nil, malformed("%s amount: %v", tag, err)
		}
		d.Event = OrderPaid{
			OrderToken:   orderID,
			PaymentToken: id,
			Amount:       value,
			Currency:     cast.ToString(amount["currency_code"]),
		}
	case "PAYMENT.PAYOUTSBATCH.SUCCESS", "PAYMENT.PAYOUTSBATCH.DENIED":
		header := cast.ToStringMap(resource["batch_header"])
		batchID := cast.ToString(header["payout_batch_id"])
		if batchID == "" {
			return nil, malformed("%s without payout_batch_id", tag)
		}
		ref := cast.ToString(cast.ToStringMap(header["sender_batch_header"])["sender_batch_id"])
		if tag == "PAYMENT.PAYOUTSBATCH.DENIED" {
			d.Event = PayoutFailed{PayoutToken: batchID, Reference: ref, Reason: "payout batch denied"}
		} else {
			d.Event = PayoutSucceeded{PayoutToken: batchID, Reference: ref}
		}
	default:
		return nil, unknown(tag)
	}
	return d, nil
}

func relatedOrderID(resource map[string]any) string {
	supplementary := cast.ToStringMap(resource["supplementary_data"])
	related := cast.ToStringMap(supplementary["related_ids"])
	return cast.ToString(related["order_id"])
}
