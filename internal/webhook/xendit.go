package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// XenditParser understands both the flat invoice/disbursement callbacks and
// the {"event": ..., "data": {...}} envelope.
type XenditParser struct{}

func (XenditParser) Provider() string { return "xendit" }

func (p XenditParser) Parse(header http.Header, body []byte) (*Delivery, error) {
	payload, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	d := &Delivery{Provider: p.Provider(), EventID: header.Get("Webhook-Id")}

	tag := cast.ToString(payload["event"])
	data := payload
	if tag != "" {
		inner, err := cast.ToStringMapE(payload["data"])
		if err != nil || len(inner) == 0 {
			return nil, malformed("event %q has no data object", tag)
		}
		data = inner
	}

	status := strings.ToUpper(cast.ToString(data["status"]))
	if tag == "" {
		tag = flatTag(data, status)
	}
	if tag == "" {
		return nil, malformed("callback has neither event nor status")
	}
	d.Tag = tag

	id := cast.ToString(data["id"])
	reason := cast.ToString(data["failure_code"])

	switch tag {
	case "invoice.paid", "invoice.settled":
		if id == "" {
			return nil, malformed("%s without invoice id", tag)
		}
		amount, err := decimalField(data["paid_amount"], data["amount"])
		if err != nil {
			return nil, malformed("%s amount: %v", tag, err)
		}
		d.Event = OrderPaid{
			OrderToken:   id,
			PaymentToken: cast.ToString(data["payment_id"]),
			Amount:       amount,
			Currency:     cast.ToString(data["currency"]),
		}
	case "invoice.expired":
		if id == "" {
			return nil, malformed("%s without invoice id", tag)
		}
		d.Event = OrderAbandoned{OrderToken: id, Reason: "invoice expired"}
	case "invoice.failed":
		if id == "" {
			return nil, malformed("%s without invoice id", tag)
		}
		if reason == "" {
			reason = "payment failed"
		}
		d.Event = OrderFailed{OrderToken: id, Reason: reason}
	case "disbursement.completed", "disbursement.failed":
		if id == "" {
			return nil, malformed("%s without disbursement id", tag)
		}
		ref := cast.ToString(data["external_id"])
		if tag == "disbursement.failed" || status == "FAILED" {
			if reason == "" {
				reason = "disbursement failed"
			}
			d.Event = PayoutFailed{PayoutToken: id, Reference: ref, Reason: reason}
		} else {
			d.Event = PayoutSucceeded{PayoutToken: id, Reference: ref}
		}
	default:
		return nil, unknown(tag)
	}
	return d, nil
}

// flatTag names a flat callback, which carries only a status.
func flatTag(data map[string]any, status string) string {
	if _, ok := data["bank_code"]; ok {
		if status == "FAILED" {
			return "disbursement.failed"
		}
		return "disbursement.completed"
	}
	if status == "" {
		return ""
	}
	return "invoice." + strings.ToLower(status)
}

func decimalField(values ...any) (decimal.Decimal, error) {
	for _, v := range values {
		if v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return decimal.Zero, err
		}
		if s == "" {
			continue
		}
		return decimal.NewFromString(s)
	}
	return decimal.Zero, nil
}

// decodeObject keeps numbers as json.Number so amounts never pass through
// float64.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	if payload == nil {
		return nil, malformed("empty payload")
	}
	return payload, nil
}
