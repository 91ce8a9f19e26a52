// Package manifest is the remote backend driver: it talks to a Manifest
// backend-as-a-service over its REST API.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"flavorfind/internal/data"
	"flavorfind/internal/dsl"
	"flavorfind/internal/logging"
)

const (
	defaultPerPage = 100
	maxPages       = 1000
)

type Config struct {
	BaseURL string
	AppID   string
	// Schemas tells the driver which fields are relations.
	Schemas map[string]*dsl.Entity
	HTTP    *http.Client
	PerPage int
	Log     *logrus.Entry
}

// Driver implements data.Backend against a Manifest server.
type Driver struct {
	base    string
	appID   string
	schemas map[string]*dsl.Entity
	http    *http.Client
	perPage int
	log     *logrus.Entry
}

var _ data.Backend = (*Driver)(nil)

func New(cfg Config) (*Driver, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("manifest: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("manifest: invalid base URL: %w", err)
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	return &Driver{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:   cfg.AppID,
		schemas: cfg.Schemas,
		http:    cfg.HTTP,
		perPage: cfg.PerPage,
		log:     logging.OrDiscard(cfg.Log),
	}, nil
}

// Slug is the collection path segment of a kind: "MenuItem" -> "menu-items".
func Slug(kind data.Kind) string {
	var b strings.Builder
	for i, r := range string(kind) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	s := b.String()
	switch {
	case strings.HasSuffix(s, "s"):
		return s
	case strings.HasSuffix(s, "y") && !strings.HasSuffix(s, "ey"):
		return strings.TrimSuffix(s, "y") + "ies"
	default:
		return s + "s"
	}
}

func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.do(ctx, http.MethodGet, "/api/health", "", nil)
	return err
}

func (d *Driver) Login(ctx context.Context, email, password string) (string, error) {
	body, err := d.do(ctx, http.MethodPost, "/api/auth/"+Slug(data.KindUser)+"/login", "",
		map[string]any{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	return tokenFrom(body)
}

func (d *Driver) Signup(ctx context.Context, name, email, password string) (string, error) {
	body, err := d.do(ctx, http.MethodPost, "/api/auth/"+Slug(data.KindUser)+"/signup", "",
		map[string]any{"name": name, "email": email, "password": password})
	if err != nil {
		return "", err
	}
	return tokenFrom(body)
}

func tokenFrom(body []byte) (string, error) {
	tok := gjson.GetBytes(body, "token").String()
	if tok == "" {
		return "", fmt.Errorf("%w: response has no token", data.ErrUnavailable)
	}
	return tok, nil
}

func (d *Driver) Me(ctx context.Context, token string) (data.User, error) {
	if token == "" {
		return data.User{}, data.ErrUnauthorized
	}
	body, err := d.do(ctx, http.MethodGet, "/api/auth/"+Slug(data.KindUser)+"/me", token, nil)
	if err != nil {
		return data.User{}, err
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return data.User{}, err
	}
	return data.DecodeUser(rec)
}

// Logout is local: Manifest sessions are stateless tokens, the caller drops it.
func (d *Driver) Logout(context.Context, string) error { return nil }

// Find follows every page of the collection.
func (d *Driver) Find(ctx context.Context, token string, kind data.Kind, q data.Query) ([]data.Record, error) {
	params := d.findParams(kind, q)
	var out []data.Record
	for page := 1; page <= maxPages; page++ {
		params.Set("page", strconv.Itoa(page))
		params.Set("perPage", strconv.Itoa(d.perPage))

		body, err := d.do(ctx, http.MethodGet, "/api/collections/"+Slug(kind)+"?"+params.Encode(), token, nil)
		if err != nil {
			return nil, err
		}
		res := gjson.ParseBytes(body)
		items := res.Get("data")
		if !items.IsArray() {
			return nil, fmt.Errorf("%w: unexpected list response", data.ErrUnavailable)
		}
		for _, it := range items.Array() {
			rec, err := decodeRecord([]byte(it.Raw))
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}

		last := res.Get("lastPage")
		if !last.Exists() || int(last.Int()) <= page || len(items.Array()) == 0 {
			break
		}
	}
	d.log.WithFields(logrus.Fields{"kind": kind, "query": q.String(), "count": len(out)}).Debug("find")
	return out, nil
}

func (d *Driver) findParams(kind data.Kind, q data.Query) url.Values {
	params := url.Values{}
	relations := append([]string(nil), q.Include...)
	for field, v := range q.Filter {
		if d.isRelation(kind, field) {
			params.Set(field+".id_eq", v)
			if !contains(relations, field) {
				relations = append(relations, field)
			}
			continue
		}
		params.Set(field+"_eq", v)
	}
	if q.Sort.Field != "" {
		params.Set("orderBy", q.Sort.Field)
		if q.Sort.Desc {
			params.Set("order", "DESC")
		} else {
			params.Set("order", "ASC")
		}
	}
	if len(relations) > 0 {
		params.Set("relations", strings.Join(relations, ","))
	}
	return params
}

// Create sends relation fields as "<field>Id", the way Manifest expects them.
func (d *Driver) Create(ctx context.Context, token string, kind data.Kind, fields data.Fields) (data.Record, error) {
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		if d.isRelation(kind, k) {
			payload[k+"Id"] = v
			continue
		}
		payload[k] = v
	}
	body, err := d.do(ctx, http.MethodPost, "/api/collections/"+Slug(kind), token, payload)
	if err != nil {
		return data.Record{}, err
	}
	return decodeRecord(body)
}

func (d *Driver) Delete(ctx context.Context, token string, kind data.Kind, id string) error {
	_, err := d.do(ctx, http.MethodDelete, "/api/collections/"+Slug(kind)+"/"+url.PathEscape(id), token, nil)
	return err
}

func (d *Driver) isRelation(kind data.Kind, field string) bool {
	e, ok := d.schemas[string(kind)]
	if !ok {
		return false
	}
	f, ok := e.Field(field)
	return ok && f.IsRef()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (d *Driver) do(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.appID != "" {
		req.Header.Set("X-App-ID", d.appID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", data.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", data.ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		err := statusError(resp.StatusCode, respBody)
		d.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).WithError(err).Debug("request failed")
		return nil, err
	}
	return respBody, nil
}

// statusError maps an HTTP failure onto the data sentinels, keeping the
// server's message when the body carries one.
func statusError(status int, body []byte) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = data.ErrUnauthorized
	case status == http.StatusNotFound:
		kind = data.ErrNotFound
	case status == http.StatusConflict:
		kind = data.ErrConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = data.ErrInvalid
	default:
		kind = data.ErrUnavailable
	}
	if msg := errorMessage(body); msg != "" {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: status %d", kind, status)
}

func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"message", "error.message", "error"} {
		r := gjson.GetBytes(body, path)
		switch {
		case r.IsArray():
			var parts []string
			for _, p := range r.Array() {
				parts = append(parts, p.String())
			}
			return strings.Join(parts, "; ")
		case r.Type == gjson.String:
			return r.String()
		}
	}
	return ""
}

// decodeRecord splits a Manifest item into system fields and data.
func decodeRecord(body []byte) (data.Record, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return data.Record{}, fmt.Errorf("%w: decode record: %v", data.ErrUnavailable, err)
	}
	id := gjson.GetBytes(body, "id")
	if !id.Exists() {
		return data.Record{}, fmt.Errorf("%w: record has no id", data.ErrUnavailable)
	}
	rec := data.Record{ID: id.String(), Data: obj}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, gjson.GetBytes(body, "createdAt").String())
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, gjson.GetBytes(body, "updatedAt").String())
	delete(obj, "id")
	delete(obj, "createdAt")
	delete(obj, "updatedAt")
	return rec, nil
}
