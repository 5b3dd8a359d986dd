package store

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

	"github.com/enfyra/app/apperr"
)

type authKey struct{}

// WithAuthorization attaches the caller's Authorization header so an
// UpstreamStore forwards it.
func WithAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, header)
}

// UpstreamStore proxies Records calls to the remote data API. Non-2xx
// responses become errors carrying the upstream status unchanged.
type UpstreamStore struct {
	baseURL string
	client  *http.Client
}

// NewUpstreamStore creates a store rooted at baseURL. A nil client gets a
// 30 second timeout.
func NewUpstreamStore(baseURL string, client *http.Client) *UpstreamStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &UpstreamStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *UpstreamStore) url(table, id string) string {
	u := s.baseURL + "/" + url.PathEscape(table)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (s *UpstreamStore) do(ctx context.Context, method, u string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth, ok := ctx.Value(authKey{}).(string); ok {
		req.Header.Set("Authorization", auth)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(http.StatusBadGateway, err, "upstream %s %s", method, u)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.Wrap(http.StatusNotFound, ErrNotFound, "%s", upstreamMessage(data, resp.Status))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.New(resp.StatusCode, "%s", upstreamMessage(data, resp.Status))
	}
	return data, nil
}

// upstreamMessage extracts a message field from an error body.
func upstreamMessage(data []byte, status string) string {
	var body struct {
		Message any `json:"message"`
		Error   any `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		for _, v := range []any{body.Message, body.Error} {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && len(text) < 512 {
		return text
	}
	return status
}

// unwrapData accepts a bare payload or one wrapped in {"data": ...}.
func unwrapData(raw json.RawMessage) json.RawMessage {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &env) == nil && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

func decodeList(raw json.RawMessage) ([]Record, error) {
	var out []Record
	if err := json.Unmarshal(unwrapData(raw), &out); err != nil {
		return nil, fmt.Errorf("decode upstream list: %w", err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

func decodeOne(raw json.RawMessage) (Record, error) {
	data := unwrapData(raw)
	var rec Record
	if err := json.Unmarshal(data, &rec); err == nil {
		return rec, nil
	}
	list, err := decodeList(data)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *UpstreamStore) List(ctx context.Context, table string) ([]Record, error) {
	raw, err := s.do(ctx, http.MethodGet, s.url(table, ""), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(raw)
}

func (s *UpstreamStore) Get(ctx context.Context, table, id string) (Record, error) {
	raw, err := s.do(ctx, http.MethodGet, s.url(table, id), nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw)
}

func (s *UpstreamStore) Create(ctx context.Context, table string, rec Record) (Record, error) {
	raw, err := s.do(ctx, http.MethodPost, s.url(table, ""), rec)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw)
}

func (s *UpstreamStore) Update(ctx context.Context, table, id string, patch Record) (Record, error) {
	raw, err := s.do(ctx, http.MethodPatch, s.url(table, id), patch)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw)
}

func (s *UpstreamStore) Delete(ctx context.Context, table, id string) error {
	_, err := s.do(ctx, http.MethodDelete, s.url(table, id), nil)
	return err
}
