// Package commerce talks to the storefront's commerce platform over its JSON API.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

const defaultTimeout = 10 * time.Second

// minorUnits is the number of decimal places of each currency's minor unit.
// Currencies not listed use two.
var minorUnits = map[string]int32{
	"VND": 0,
	"JPY": 0,
	"KRW": 0,
	"IDR": 0,
}

// Client implements interfaces.CommercePlatform.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

type cartResponse struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Lines    []struct {
		VariantID string          `json:"variant_id"`
		Title     string          `json:"title"`
		Quantity  int             `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	} `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

type orderLine struct {
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type orderDiscount struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

type orderRequest struct {
	ExternalRef     string                 `json:"external_ref"`
	Currency        string                 `json:"currency"`
	Lines           []orderLine            `json:"lines"`
	Customer        models.OrderCustomer   `json:"customer"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	Discount        *orderDiscount         `json:"discount,omitempty"`
	Total           decimal.Decimal        `json:"total"`
	PaymentMethod   string                 `json:"payment_method"`
	PaymentStatus   string                 `json:"payment_status"`
	Note            string                 `json:"note,omitempty"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

type apiError struct {
	Error string `json:"error"`
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetCart returns interfaces.ErrNotFound when the platform does not know the cart.
func (c *Client) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	var resp cartResponse
	if err := c.do(ctx, http.MethodGet, "/carts/"+url.PathEscape(cartID), nil, &resp); err != nil {
		return nil, err
	}

	cart := &models.Cart{
		ID:       resp.ID,
		Currency: strings.ToUpper(resp.Currency),
		Total:    ToMinor(resp.Total, resp.Currency),
	}
	for _, l := range resp.Lines {
		cart.Items = append(cart.Items, models.LineItem{
			VariantID: l.VariantID,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: ToMinor(l.UnitPrice, resp.Currency),
			Currency:  cart.Currency,
		})
	}
	return cart, nil
}

func (c *Client) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	body := orderRequest{
		ExternalRef:     req.SessionID,
		Currency:        req.Currency,
		Customer:        req.Customer,
		ShippingAddress: req.Address,
		Total:           FromMinor(req.Total, req.Currency),
		PaymentMethod:   string(req.PaymentMethod),
		PaymentStatus:   "pending",
		Note:            req.PaymentCode,
	}
	for _, l := range req.LineItems {
		body.Lines = append(body.Lines, orderLine{
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: FromMinor(l.UnitPrice, req.Currency),
		})
	}
	if req.Discount != nil {
		body.Discount = &orderDiscount{
			Code:   req.Discount.Code,
			Amount: FromMinor(req.Discount.Amount, req.Currency),
		}
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("commerce: order response without id")
	}
	return &models.OrderResult{OrderID: resp.ID, OrderNumber: resp.Number}, nil
}

func (c *Client) MarkOrderPaid(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/mark-paid", struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("commerce %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("commerce %s %s: %w", method, path, interfaces.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("commerce %s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("commerce %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func exponent(currency string) int32 {
	if e, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// ToMinor converts a decimal amount into integer minor units, rounding half away
// from zero.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(exponent(currency)).Round(0).IntPart()
}

func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -exponent(currency))
}
