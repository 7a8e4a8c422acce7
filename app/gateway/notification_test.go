package gateway

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
)

func TestParseNotificationFromQueryValues(t *testing.T) {
	values := url.Values{}
	values.Set("ReturnValue", "cs_abc")
	values.Set("lowprofilecode", "lp-123")
	values.Set("OperationResponse", "0")
	values.Set("DealResponse", "0")
	values.Set("TokenResponse", "0")
	values.Set("Token", "tok_123")
	values.Set("TokenExDate", "20271231")
	values.Set("InternalDealNumber", "998877")
	values.Set("InvoiceNumber", "INV-5")
	values.Set("Brand", "Visa")
	values.Set("Last4CardDigits", "4242")
	values.Set("Email", "buyer@example.com")

	n, err := ParseNotification(values, "", nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if n.Reference != "cs_abc" || n.LowProfileID != "lp-123" {
		t.Fatalf("unexpected identifiers: %+v", n)
	}
	if n.OperationResponse == nil || *n.OperationResponse != 0 {
		t.Fatalf("unexpected operation response: %v", n.OperationResponse)
	}
	if n.Token != "tok_123" || n.TransactionID != "998877" || n.InvoiceNumber != "INV-5" {
		t.Fatalf("unexpected fields: %+v", n)
	}
	if n.CardBrand != "Visa" || n.CardLast4 != "4242" || n.Email != "buyer@example.com" {
		t.Fatalf("unexpected card fields: %+v", n)
	}
	expiry := time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC)
	if n.TokenExpiry == nil || !n.TokenExpiry.Equal(expiry) {
		t.Fatalf("unexpected token expiry: %v", n.TokenExpiry)
	}
}

func TestParseNotificationFromJSONBodyWithMixedCodeTypes(t *testing.T) {
	body := []byte(`{
		"ReturnValue": "cs_abc",
		"LowProfileId": "lp-123",
		"ResponseCode": 0,
		"DealResponse": "0",
		"TokenResponse": 0,
		"Token": "tok_123",
		"InternalDealNumber": 556677
	}`)

	n, err := ParseNotification(nil, "application/json", body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if n.Reference != "cs_abc" || n.LowProfileID != "lp-123" {
		t.Fatalf("unexpected identifiers: %+v", n)
	}
	if n.OperationResponse == nil || *n.OperationResponse != 0 {
		t.Fatalf("expected ResponseCode alias to populate operation response, got %v", n.OperationResponse)
	}
	if n.DealResponse == nil || *n.DealResponse != 0 {
		t.Fatalf("expected string-typed deal response to parse, got %v", n.DealResponse)
	}
	if n.TransactionID != "556677" {
		t.Fatalf("expected numeric transaction id to stringify, got %q", n.TransactionID)
	}
}

func TestParseNotificationFromFormBody(t *testing.T) {
	body := []byte("ReturnValue=cs_abc&OperationResponse=0&DealResponse=0")

	n, err := ParseNotification(nil, "application/x-www-form-urlencoded", body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if n.Reference != "cs_abc" {
		t.Fatalf("unexpected reference: %q", n.Reference)
	}
	if !n.ChargeApproved() {
		t.Fatal("expected charge approved")
	}
}

func TestParseNotificationRejectsUnknownPayloads(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("  "),
		[]byte(`{"hello":"world"}`),
		[]byte("foo=bar"),
	}
	for _, body := range cases {
		if _, err := ParseNotification(nil, "", body); !errors.Is(err, ErrUnrecognizedPayload) {
			t.Fatalf("expected ErrUnrecognizedPayload for %q, got %v", body, err)
		}
	}
}

func TestSuccessForPerOperation(t *testing.T) {
	zero := 0
	one := 1

	cases := []struct {
		name      string
		operation int32
		n         Notification
		want      bool
	}{
		{"charge approved", entity.OperationChargeOnly, Notification{OperationResponse: &zero, DealResponse: &zero}, true},
		{"charge declined", entity.OperationChargeOnly, Notification{OperationResponse: &one, DealResponse: &zero}, false},
		{"charge deal leg absent", entity.OperationChargeOnly, Notification{OperationResponse: &zero}, false},
		{"tokenize approved", entity.OperationCreateTokenOnly, Notification{TokenResponse: &zero}, true},
		{"tokenize code absent", entity.OperationCreateTokenOnly, Notification{OperationResponse: &zero, DealResponse: &zero}, false},
		{"combined both legs", entity.OperationChargeAndCreateToken, Notification{OperationResponse: &zero, DealResponse: &zero, TokenResponse: &zero}, true},
		{"combined token leg missing", entity.OperationChargeAndCreateToken, Notification{OperationResponse: &zero, DealResponse: &zero}, false},
		{"combined token declined", entity.OperationChargeAndCreateToken, Notification{OperationResponse: &zero, DealResponse: &zero, TokenResponse: &one}, false},
	}

	for _, tc := range cases {
		if got := tc.n.SuccessFor(tc.operation); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestParseTokenExDateInvalidValuesIgnored(t *testing.T) {
	for _, value := range []string{"", "notadate", "202712"} {
		if got := parseTokenExDate(value); got != nil {
			t.Fatalf("expected nil expiry for %q, got %v", value, got)
		}
	}
}
