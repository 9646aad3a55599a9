package notify

import (
	"strings"
	"testing"
)

func TestCompose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType   string
		wantSubject string
		wantInBody  string
	}{
		{"order.paid", "Your tickets are confirmed", "is paid"},
		{"order.cancelled", "Your order was cancelled", "PAYMENT_DECLINED"},
		{"order.expired", "Your order expired", "returned to sale"},
		{"order.unknown", "Order update", "order.unknown"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.eventType, func(t *testing.T) {
			msg := Compose(tt.eventType, "order-1", "buyer-1", 99.50, "PAYMENT_DECLINED")
			if msg.Subject != tt.wantSubject {
				t.Fatalf("subject: got %q, want %q", msg.Subject, tt.wantSubject)
			}
			if !strings.Contains(msg.Body, tt.wantInBody) {
				t.Fatalf("body %q does not mention %q", msg.Body, tt.wantInBody)
			}
			if msg.OrderID != "order-1" || msg.BuyerID != "buyer-1" {
				t.Fatalf("ids not carried: %+v", msg)
			}
		})
	}
}
