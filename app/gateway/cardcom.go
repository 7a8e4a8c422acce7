package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradelens/ms-go-billing/app/entity"
)

const DefaultBaseURL = "https://secure.cardcom.solutions"

// ISO 4217 numeric ids as the gateway expects them.
var coinIDs = map[string]int{
	"ILS": 1,
	"USD": 2,
	"EUR": 978,
}

type CardcomConfig struct {
	BaseURL        string
	TerminalNumber string
	APIName        string
	APIPassword    string
	HTTPTimeout    time.Duration
}

// Cardcom is a hand-rolled client for the gateway's v11 JSON API: hosted
// page creation, session status, and token charges.
type Cardcom struct {
	cfg    CardcomConfig
	client *http.Client
}

func NewCardcom(cfg CardcomConfig) *Cardcom {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	return &Cardcom{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type CreateSessionInput struct {
	Operation int32
	Reference string
	Amount    decimal.Decimal
	Currency  string

	Email    string
	FullName string
	Phone    string

	SuccessURL string
	FailureURL string
	WebhookURL string
}

type CreateSessionOutput struct {
	LowProfileID string
	CheckoutURL  string
}

func (c *Cardcom) CreateSession(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
	if strings.TrimSpace(c.cfg.TerminalNumber) == "" || strings.TrimSpace(c.cfg.APIName) == "" {
		return nil, errors.New("cardcom terminal credentials are not configured")
	}

	coinID, ok := coinIDs[strings.ToUpper(strings.TrimSpace(input.Currency))]
	if !ok {
		return nil, fmt.Errorf("unsupported currency %q", input.Currency)
	}

	operation, err := operationName(input.Operation)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TerminalNumber":     c.cfg.TerminalNumber,
		"ApiName":            c.cfg.APIName,
		"Operation":          operation,
		"Amount":             input.Amount.InexactFloat64(),
		"ISOCoinId":          coinID,
		"ReturnValue":        input.Reference,
		"SuccessRedirectUrl": input.SuccessURL,
		"FailedRedirectUrl":  input.FailureURL,
		"WebHookUrl":         input.WebhookURL,
		"Document": map[string]interface{}{
			"Name":  input.FullName,
			"Email": input.Email,
		},
		"UIDefinition": map[string]interface{}{
			"IsHideCustomerEmail": false,
			"IsHideCustomerPhone": input.Phone == "",
		},
	}

	body, err := c.postJSON(ctx, "/api/v11/LowProfile/Create", payload)
	if err != nil {
		return nil, err
	}

	var response struct {
		ResponseCode int    `json:"ResponseCode"`
		Description  string `json:"Description"`
		LowProfileID string `json:"LowProfileId"`
		URL          string `json:"Url"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}
	if response.ResponseCode != 0 {
		return nil, fmt.Errorf("cardcom create session rejected: code=%d description=%s", response.ResponseCode, response.Description)
	}
	if strings.TrimSpace(response.LowProfileID) == "" || strings.TrimSpace(response.URL) == "" {
		return nil, errors.New("cardcom create session response is missing LowProfileId or Url")
	}

	return &CreateSessionOutput{
		LowProfileID: strings.TrimSpace(response.LowProfileID),
		CheckoutURL:  strings.TrimSpace(response.URL),
	}, nil
}

type SessionStatus struct {
	ResponseCode int
	Description  string
	Reference    string

	TransactionID string
	InvoiceNumber string
	CardBrand     string
	CardLast4     string
	CardExpiry    string

	Token       string
	TokenExpiry *time.Time
}

// GetSessionStatus queries the transaction-result endpoint with terminal
// credentials; the last-resort path of the redirect verifier.
func (c *Cardcom) GetSessionStatus(ctx context.Context, lowProfileID string) (*SessionStatus, error) {
	payload := map[string]interface{}{
		"TerminalNumber": c.cfg.TerminalNumber,
		"ApiName":        c.cfg.APIName,
		"ApiPassword":    c.cfg.APIPassword,
		"LowProfileId":   lowProfileID,
	}

	body, err := c.postJSON(ctx, "/api/v11/LowProfile/GetLpResult", payload)
	if err != nil {
		return nil, err
	}

	var response struct {
		ResponseCode    int    `json:"ResponseCode"`
		Description     string `json:"Description"`
		ReturnValue     string `json:"ReturnValue"`
		TranzactionInfo struct {
			TranzactionID   json.Number `json:"TranzactionId"`
			Brand           string      `json:"Brand"`
			Last4CardDigits json.Number `json:"Last4CardDigits"`
			CardExpiry      string      `json:"CardExpiry"`
			InvoiceNumber   json.Number `json:"InvoiceNumber"`
		} `json:"TranzactionInfo"`
		TokenInfo struct {
			Token       string `json:"Token"`
			TokenExDate string `json:"TokenExDate"`
		} `json:"TokenInfo"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}

	return &SessionStatus{
		ResponseCode:  response.ResponseCode,
		Description:   response.Description,
		Reference:     strings.TrimSpace(response.ReturnValue),
		TransactionID: response.TranzactionInfo.TranzactionID.String(),
		InvoiceNumber: response.TranzactionInfo.InvoiceNumber.String(),
		CardBrand:     strings.TrimSpace(response.TranzactionInfo.Brand),
		CardLast4:     response.TranzactionInfo.Last4CardDigits.String(),
		CardExpiry:    strings.TrimSpace(response.TranzactionInfo.CardExpiry),
		Token:         strings.TrimSpace(response.TokenInfo.Token),
		TokenExpiry:   parseTokenExDate(response.TokenInfo.TokenExDate),
	}, nil
}

type ChargeTokenInput struct {
	Token     string
	Amount    decimal.Decimal
	Currency  string
	Reference string
}

type ChargeTokenOutput struct {
	ResponseCode  int
	Description   string
	TransactionID string
	InvoiceNumber string
}

func (c *Cardcom) ChargeToken(ctx context.Context, input *ChargeTokenInput) (*ChargeTokenOutput, error) {
	coinID, ok := coinIDs[strings.ToUpper(strings.TrimSpace(input.Currency))]
	if !ok {
		return nil, fmt.Errorf("unsupported currency %q", input.Currency)
	}

	payload := map[string]interface{}{
		"TerminalNumber":     c.cfg.TerminalNumber,
		"ApiName":            c.cfg.APIName,
		"ApiPassword":        c.cfg.APIPassword,
		"Amount":             input.Amount.InexactFloat64(),
		"ISOCoinId":          coinID,
		"Token":              input.Token,
		"ExternalUniqTranId": input.Reference,
	}

	body, err := c.postJSON(ctx, "/api/v11/Transactions/Transaction", payload)
	if err != nil {
		return nil, err
	}

	var response struct {
		ResponseCode  int         `json:"ResponseCode"`
		Description   string      `json:"Description"`
		TranzactionID json.Number `json:"TranzactionId"`
		InvoiceNumber json.Number `json:"InvoiceNumber"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}

	return &ChargeTokenOutput{
		ResponseCode:  response.ResponseCode,
		Description:   response.Description,
		TransactionID: response.TranzactionID.String(),
		InvoiceNumber: response.InvoiceNumber.String(),
	}, nil
}

func (c *Cardcom) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("cardcom request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(body))
	}

	return body, nil
}

func operationName(operation int32) (string, error) {
	switch operation {
	case entity.OperationChargeOnly:
		return "ChargeOnly", nil
	case entity.OperationChargeAndCreateToken:
		return "ChargeAndCreateToken", nil
	case entity.OperationCreateTokenOnly:
		return "CreateTokenOnly", nil
	default:
		return "", fmt.Errorf("unknown operation %d", operation)
	}
}
