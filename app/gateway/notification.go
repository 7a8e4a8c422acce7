package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
)

var ErrUnrecognizedPayload = errors.New("notification payload matches no known shape")

// Notification is the canonical form of a gateway webhook, whichever of the
// three wire shapes (query string, JSON body, form body) it arrived in.
// Response codes are pointers because the gateway omits the legs that do not
// apply to the operation; an absent leg never counts as success.
type Notification struct {
	Reference    string
	LowProfileID string

	OperationResponse *int
	DealResponse      *int
	TokenResponse     *int

	Token       string
	TokenExpiry *time.Time

	TransactionID string
	InvoiceNumber string

	CardBrand string
	CardLast4 string

	Email string
}

// ParseNotification normalizes a webhook call before any business logic sees
// it. Precedence: query parameters when they carry gateway fields, then a
// JSON body, then a form-encoded body.
func ParseNotification(query url.Values, contentType string, body []byte) (*Notification, error) {
	if HasGatewayFields(query) {
		return fromValues(query)
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, ErrUnrecognizedPayload
	}

	if strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
		return fromJSON(fields)
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}
	if !HasGatewayFields(values) {
		return nil, ErrUnrecognizedPayload
	}
	return fromValues(values)
}

// SuccessFor evaluates the per-operation success contract: the charge leg is
// approved when OperationResponse and DealResponse are both zero, the token
// leg when TokenResponse is zero. Combined operations need both legs.
func (n *Notification) SuccessFor(operation int32) bool {
	switch operation {
	case entity.OperationChargeOnly:
		return n.ChargeApproved()
	case entity.OperationCreateTokenOnly:
		return n.TokenIssued()
	case entity.OperationChargeAndCreateToken:
		return n.ChargeApproved() && n.TokenIssued()
	default:
		return false
	}
}

func (n *Notification) ChargeApproved() bool {
	return codeIsZero(n.OperationResponse) && codeIsZero(n.DealResponse)
}

func (n *Notification) TokenIssued() bool {
	return codeIsZero(n.TokenResponse)
}

func codeIsZero(code *int) bool {
	return code != nil && *code == 0
}

// HasGatewayFields reports whether a set of values carries any of the
// notification fields, which decides the parse precedence for a webhook.
func HasGatewayFields(values url.Values) bool {
	for _, key := range []string{"ReturnValue", "OperationResponse", "ResponseCode", "DealResponse", "TokenResponse", "lowprofilecode", "LowProfileId"} {
		if values.Has(key) {
			return true
		}
	}
	return false
}

func fromValues(values url.Values) (*Notification, error) {
	n := &Notification{
		Reference:     strings.TrimSpace(values.Get("ReturnValue")),
		LowProfileID:  firstNonEmpty(values.Get("LowProfileId"), values.Get("lowprofilecode")),
		Token:         strings.TrimSpace(values.Get("Token")),
		TransactionID: strings.TrimSpace(values.Get("InternalDealNumber")),
		InvoiceNumber: strings.TrimSpace(values.Get("InvoiceNumber")),
		CardBrand:     strings.TrimSpace(values.Get("Brand")),
		CardLast4:     strings.TrimSpace(values.Get("Last4CardDigits")),
		Email:         strings.TrimSpace(values.Get("Email")),
	}

	n.OperationResponse = intFromString(firstNonEmpty(values.Get("OperationResponse"), values.Get("ResponseCode")))
	n.DealResponse = intFromString(values.Get("DealResponse"))
	n.TokenResponse = intFromString(values.Get("TokenResponse"))
	n.TokenExpiry = parseTokenExDate(values.Get("TokenExDate"))

	return n, nil
}

func fromJSON(fields map[string]json.RawMessage) (*Notification, error) {
	known := false
	for _, key := range []string{"ReturnValue", "OperationResponse", "ResponseCode", "DealResponse", "TokenResponse"} {
		if _, ok := fields[key]; ok {
			known = true
			break
		}
	}
	if !known {
		return nil, ErrUnrecognizedPayload
	}

	n := &Notification{
		Reference:     jsonString(fields, "ReturnValue"),
		LowProfileID:  firstNonEmpty(jsonString(fields, "LowProfileId"), jsonString(fields, "lowprofilecode")),
		Token:         jsonString(fields, "Token"),
		TransactionID: jsonString(fields, "InternalDealNumber"),
		InvoiceNumber: jsonString(fields, "InvoiceNumber"),
		CardBrand:     jsonString(fields, "Brand"),
		CardLast4:     jsonString(fields, "Last4CardDigits"),
		Email:         jsonString(fields, "Email"),
	}

	n.OperationResponse = jsonCode(fields, "OperationResponse")
	if n.OperationResponse == nil {
		n.OperationResponse = jsonCode(fields, "ResponseCode")
	}
	n.DealResponse = jsonCode(fields, "DealResponse")
	n.TokenResponse = jsonCode(fields, "TokenResponse")
	n.TokenExpiry = parseTokenExDate(jsonString(fields, "TokenExDate"))

	return n, nil
}

// jsonString tolerates both string and numeric JSON values; the gateway is
// not consistent about which one it sends.
func jsonString(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if json.Unmarshal(raw, &num) == nil {
		return num.String()
	}
	return ""
}

func jsonCode(fields map[string]json.RawMessage, key string) *int {
	return intFromString(jsonString(fields, key))
}

func intFromString(value string) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &n
}

// parseTokenExDate converts the gateway's YYYYMMDD token expiry to a date.
func parseTokenExDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse("20060102", value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
