// Package sanity implements mirror.DocumentStore on the Sanity content lake
// HTTP API: GROQ queries for reads and the mutate endpoint for writes.
package sanity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/sakif/storefront/internal/mirror"
)

const (
	DefaultDataset    = "production"
	DefaultAPIVersion = "2023-05-03"

	syncStateType = "syncState"
)

var _ mirror.DocumentStore = (*Client)(nil)

type Config struct {
	ProjectID  string
	Dataset    string
	Token      string
	APIVersion string
	// BaseURL overrides https://<project>.api.sanity.io (tests, proxies).
	BaseURL string
}

// Client is a Sanity HTTP client scoped to one dataset.
type Client struct {
	base    string
	dataset string
	http    *http.Client
}

// New returns a Client. The API token is attached as a bearer token by an
// oauth2 static token source.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectID == "" && cfg.BaseURL == "" {
		return nil, errors.New("sanity: project id is required")
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://" + cfg.ProjectID + ".api.sanity.io"
	}

	hc := &http.Client{}
	if cfg.Token != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
	}
	hc.Timeout = 30 * time.Second

	return &Client{
		base:    strings.TrimRight(base, "/") + "/v" + strings.TrimPrefix(cfg.APIVersion, "v"),
		dataset: cfg.Dataset,
		http:    hc,
	}, nil
}

func (c *Client) ListOrders(ctx context.Context) ([]mirror.DocumentRef, error) {
	var refs []mirror.DocumentRef
	err := c.query(ctx, `*[_type == $type]{_id, orderNumber, syncHash}`,
		map[string]any{"type": mirror.DocumentType}, &refs)
	if err != nil {
		return nil, fmt.Errorf("sanity: listing orders: %w", err)
	}
	return refs, nil
}

func (c *Client) FindOrder(ctx context.Context, orderNumber string) (*mirror.DocumentRef, error) {
	var ref *mirror.DocumentRef
	err := c.query(ctx, `*[_type == $type && orderNumber == $orderNumber][0]{_id, orderNumber, syncHash}`,
		map[string]any{"type": mirror.DocumentType, "orderNumber": orderNumber}, &ref)
	if err != nil {
		return nil, fmt.Errorf("sanity: finding order %s: %w", orderNumber, err)
	}
	return ref, nil
}

// CreateOrder creates the document, generating its _id when empty.
func (c *Client) CreateOrder(ctx context.Context, doc *mirror.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := c.mutate(ctx, map[string]any{"create": doc}); err != nil {
		return fmt.Errorf("sanity: creating order %s: %w", doc.OrderNumber, err)
	}
	return nil
}

// PatchOrder sets every mirrored field of the document.
func (c *Client) PatchOrder(ctx context.Context, id string, doc *mirror.Document) error {
	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	delete(fields, "_id")
	delete(fields, "_type")

	body := map[string]any{"id": id, "set": fields}
	// Optional fields omitted from set would otherwise keep stale values.
	var unset []string
	for _, k := range []string{"shippingAddress", "paymentReferenceId"} {
		if _, ok := fields[k]; !ok {
			unset = append(unset, k)
		}
	}
	if len(unset) > 0 {
		body["unset"] = unset
	}

	patch := map[string]any{"patch": body}
	if err := c.mutate(ctx, patch); err != nil {
		return fmt.Errorf("sanity: patching order %s: %w", id, err)
	}
	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if err := c.mutate(ctx, map[string]any{"delete": map[string]any{"id": id}}); err != nil {
		return fmt.Errorf("sanity: deleting %s: %w", id, err)
	}
	return nil
}

// SaveSyncState replaces the singleton document for state.Key.
func (c *Client) SaveSyncState(ctx context.Context, state *mirror.SyncState) error {
	fields, err := toFields(state)
	if err != nil {
		return err
	}
	fields["_id"] = syncStateType + "-" + state.Key
	fields["_type"] = syncStateType

	if err := c.mutate(ctx, map[string]any{"createOrReplace": fields}); err != nil {
		return fmt.Errorf("sanity: saving sync state %s: %w", state.Key, err)
	}
	return nil
}

func (c *Client) GetSyncState(ctx context.Context, key string) (*mirror.SyncState, error) {
	var state *mirror.SyncState
	err := c.query(ctx, `*[_type == $type && key == $key][0]`,
		map[string]any{"type": syncStateType, "key": key}, &state)
	if err != nil {
		return nil, fmt.Errorf("sanity: reading sync state %s: %w", key, err)
	}
	return state, nil
}

// query runs a GROQ query. Parameters are passed as $name=<JSON value>.
func (c *Client) query(ctx context.Context, groq string, params map[string]any, out any) error {
	q := url.Values{"query": {groq}}
	for k, v := range params {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding param %s: %w", k, err)
		}
		q.Set("$"+k, string(b))
	}

	u := c.base + "/data/query/" + url.PathEscape(c.dataset) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.do(req, &env); err != nil {
		return err
	}
	if len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// mutate sends a single mutation and waits for it to be visible to queries.
func (c *Client) mutate(ctx context.Context, mutation map[string]any) error {
	body, err := json.Marshal(map[string]any{"mutations": []any{mutation}})
	if err != nil {
		return fmt.Errorf("encoding mutation: %w", err)
	}

	u := c.base + "/data/mutate/" + url.PathEscape(c.dataset) + "?returnIds=true&visibility=sync"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		TransactionID string `json:"transactionId"`
	}
	return c.do(req, &resp)
}

// APIError is an error response from the content lake.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sanity: HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var env struct {
			Error struct {
				Description string `json:"description"`
			} `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(b, &env)
		msg := env.Error.Description
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// toFields renders v as a JSON object map.
func toFields(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sanity: encoding document: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("sanity: encoding document: %w", err)
	}
	return m, nil
}
