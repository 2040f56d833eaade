// Package services provides external service integrations: template storage,
// CRM lead lookup, and message rendering.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTemplateNotFound indicates the template store has no template with the
// requested id. The referenced template will not appear on retry, so callers
// treat this as a permanent failure.
var ErrTemplateNotFound = errors.New("template not found")

// Template is a message template as stored in the external template service
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateStore loads templates from wherever they live
type TemplateStore interface {
	Get(ctx context.Context, organizationID uint, templateID string) (*Template, error)
}

// RenderedMessage is the output of template resolution
type RenderedMessage struct {
	Subject string
	Body    string
}

// TemplateResolver renders a template against a lead's fields
type TemplateResolver interface {
	Render(ctx context.Context, organizationID uint, templateID string, fields map[string]string) (*RenderedMessage, error)
}

// placeholderPattern matches {{name}} tokens, allowing dotted paths like
// {{company.name}} and surrounding whitespace inside the braces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`)

// TemplateResolverImpl implements TemplateResolver with an optional
// redis-backed template cache
type TemplateResolverImpl struct {
	store    TemplateStore
	rc       *redis.Client
	cacheTTL time.Duration
}

// NewTemplateResolver creates a resolver. rc may be nil; rendering then
// always hits the store.
func NewTemplateResolver(store TemplateStore, rc *redis.Client, cacheTTL time.Duration) TemplateResolver {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &TemplateResolverImpl{store: store, rc: rc, cacheTTL: cacheTTL}
}

// Render loads the template and substitutes {{field}} placeholders from the
// given fields. Placeholders without a matching field stay verbatim so a
// half-personalized message is visible instead of silently blanked.
func (r *TemplateResolverImpl) Render(ctx context.Context, organizationID uint, templateID string, fields map[string]string) (*RenderedMessage, error) {
	tpl, err := r.lookup(ctx, organizationID, templateID)
	if err != nil {
		return nil, err
	}
	return &RenderedMessage{
		Subject: Substitute(tpl.Subject, fields),
		Body:    Substitute(tpl.Body, fields),
	}, nil
}

// Substitute replaces {{field}} placeholders with values from fields,
// leaving unknown placeholders untouched
func Substitute(text string, fields map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if val, ok := fields[key]; ok {
			return val
		}
		return match
	})
}

func (r *TemplateResolverImpl) lookup(ctx context.Context, organizationID uint, templateID string) (*Template, error) {
	cacheKey := fmt.Sprintf("sequence_engine:template:%d:%s", organizationID, templateID)

	if r.rc != nil {
		if bs, err := r.rc.Get(ctx, cacheKey).Bytes(); err == nil && len(bs) > 0 {
			var tpl Template
			if err := json.Unmarshal(bs, &tpl); err == nil {
				return &tpl, nil
			}
		}
	}

	tpl, err := r.store.Get(ctx, organizationID, templateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("template %q: %w", templateID, ErrTemplateNotFound)
	}

	if r.rc != nil {
		if bs, err := json.Marshal(tpl); err == nil {
			_ = r.rc.Set(ctx, cacheKey, bs, r.cacheTTL).Err()
		}
	}
	return tpl, nil
}

// HTTPTemplateStore fetches templates from the template service over HTTP
type HTTPTemplateStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTemplateStore creates an HTTP-backed template store
func NewHTTPTemplateStore(baseURL, apiKey string, timeout time.Duration) *HTTPTemplateStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTemplateStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Get fetches one template. A 404 maps to ErrTemplateNotFound.
func (s *HTTPTemplateStore) Get(ctx context.Context, organizationID uint, templateID string) (*Template, error) {
	url := fmt.Sprintf("%s/v1/organizations/%d/templates/%s", s.baseURL, organizationID, templateID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("template store: build request: %w", err)
	}
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("template store: fetch %s: %w", templateID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("template %q: %w", templateID, ErrTemplateNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("template store returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var tpl Template
	if err := json.NewDecoder(resp.Body).Decode(&tpl); err != nil {
		return nil, fmt.Errorf("template store: decode %s: %w", templateID, err)
	}
	return &tpl, nil
}
