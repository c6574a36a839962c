package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/storefront/internal/model"
)

// DefaultAPIURL is the provider's REST endpoint.
const DefaultAPIURL = "https://api.stripe.com/v1"

// PaymentIntent is the subset of the provider's payment intent we use.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Customer     string            `json:"customer"`
	ReceiptEmail string            `json:"receipt_email"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type CheckoutSession struct {
	ID              string            `json:"id"`
	PaymentIntent   string            `json:"payment_intent"`
	Customer        string            `json:"customer"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

type CreateCustomerParams struct {
	Email   string
	Name    string
	Address *model.AddressSnapshot
}

type CreatePaymentIntentParams struct {
	Amount       int64
	Currency     string
	Customer     string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
	Shipping     *model.AddressSnapshot
	ShippingName string
}

// APIError is an error response from the provider.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payment provider: HTTP %d", e.StatusCode)
	}
	return "payment provider: " + e.Message
}

// Client talks to the payment provider's REST API. The secret key is sent
// as a bearer token by an oauth2 static token source.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL (DefaultAPIURL when empty).
func NewClient(secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	hc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: secretKey,
		TokenType:   "Bearer",
	}))
	hc.Timeout = 15 * time.Second
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(id), nil, &pi); err != nil {
		return nil, fmt.Errorf("payment: retrieving payment intent %s: %w", id, err)
	}
	return &pi, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var cu Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(id), nil, &cu); err != nil {
		return nil, fmt.Errorf("payment: retrieving customer %s: %w", id, err)
	}
	return &cu, nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	var s CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/checkout/sessions/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, fmt.Errorf("payment: retrieving checkout session %s: %w", id, err)
	}
	return &s, nil
}

func (c *Client) CreateCustomer(ctx context.Context, p CreateCustomerParams) (*Customer, error) {
	form := url.Values{}
	setIf(form, "email", p.Email)
	setIf(form, "name", p.Name)
	if p.Address != nil {
		setAddress(form, "address", p.Address)
		setAddress(form, "shipping[address]", p.Address)
		setIf(form, "shipping[name]", p.Name)
	}

	var cu Customer
	if err := c.do(ctx, http.MethodPost, "/customers", form, &cu); err != nil {
		return nil, fmt.Errorf("payment: creating customer: %w", err)
	}
	return &cu, nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, p CreatePaymentIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", strings.ToLower(p.Currency))
	form.Set("capture_method", "automatic")
	form.Add("payment_method_types[]", "card")
	setIf(form, "customer", p.Customer)
	setIf(form, "description", p.Description)
	setIf(form, "receipt_email", p.ReceiptEmail)
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	if p.Shipping != nil {
		setAddress(form, "shipping[address]", p.Shipping)
		name := p.ShippingName
		if name == "" {
			name = "Customer"
		}
		form.Set("shipping[name]", name)
	}

	var pi PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/payment_intents", form, &pi); err != nil {
		return nil, fmt.Errorf("payment: creating payment intent: %w", err)
	}
	return &pi, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var env struct {
			Error APIError `json:"error"`
		}
		_ = json.Unmarshal(b, &env)
		env.Error.StatusCode = resp.StatusCode
		return &env.Error
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func setIf(form url.Values, key, value string) {
	if value != "" {
		form.Set(key, value)
	}
}

func setAddress(form url.Values, prefix string, a *model.AddressSnapshot) {
	form.Set(prefix+"[line1]", a.Street)
	form.Set(prefix+"[city]", a.City)
	form.Set(prefix+"[state]", a.State)
	form.Set(prefix+"[postal_code]", a.PostalCode)
	form.Set(prefix+"[country]", a.Country)
}
