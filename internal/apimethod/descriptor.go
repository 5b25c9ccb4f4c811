package apimethod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var pathParamPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Descriptor is the immutable definition of one remote call.
type Descriptor struct {
	// Name identifies the method in logs, metrics and errors (e.g. "wallet.get_balances").
	Name string

	// Method is the HTTP verb.
	Method string

	// URL is the absolute endpoint. {name} segments are filled from Values.
	URL string

	// Query is rendered into URL query parameters.
	Query Object

	// Body is rendered into the JSON request body. Nil means no body.
	Body Node

	// Form sends Body as application/x-www-form-urlencoded instead of JSON.
	// Body must then resolve to a flat object.
	Form bool

	// Header holds static per-method headers, applied over client defaults.
	Header map[string]string

	// NoCache keeps a GET out of the response cache, for reads that have
	// side effects or return state that other calls change.
	NoCache bool
}

// Cacheable reports whether responses for this method may be served from cache.
func (d *Descriptor) Cacheable() bool {
	return !d.NoCache && (d.Method == http.MethodGet || d.Method == "")
}

// Required lists the value keys a caller must supply, sorted.
func (d *Descriptor) Required() []string {
	seen := make(map[string]struct{})
	for _, m := range pathParamPattern.FindAllStringSubmatch(d.URL, -1) {
		seen[m[1]] = struct{}{}
	}
	visit := func(key string, p Placeholder) {
		if p.Required() {
			seen[key] = struct{}{}
		}
	}
	if d.Query != nil {
		d.Query.walk("", visit)
	}
	if d.Body != nil {
		d.Body.walk("", visit)
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Request is a fully resolved call ready to be sent.
type Request struct {
	Name   string
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	// Body is the resolved body, or nil when the method has none.
	Body any
	Form bool
}

// Build resolves d against values. Default factories run once per call.
func Build(d *Descriptor, values Values) (*Request, error) {
	if d == nil {
		return nil, fmt.Errorf("apimethod: nil descriptor")
	}
	if values == nil {
		values = Values{}
	}

	target, err := expandURL(d, values)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Name:   d.Name,
		Method: d.Method,
		URL:    target,
		Query:  url.Values{},
		Header: http.Header{},
		Form:   d.Form,
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	for k, v := range d.Header {
		req.Header.Set(k, v)
	}

	if d.Query != nil {
		resolved, err := d.Query.resolve("", values, d.Name)
		if err != nil {
			return nil, err
		}
		for k, v := range resolved.(map[string]any) {
			addQuery(req.Query, k, v)
		}
	}

	if d.Body != nil {
		body, err := d.Body.resolve("", values, d.Name)
		if err != nil {
			return nil, err
		}
		if !IsAbsent(body) {
			req.Body = body
		}
	}

	return req, nil
}

func expandURL(d *Descriptor, values Values) (string, error) {
	var missing string
	out := pathParamPattern.ReplaceAllStringFunc(d.URL, func(m string) string {
		name := pathParamPattern.FindStringSubmatch(m)[1]
		v, ok := values[name]
		if !ok || v == nil || IsAbsent(v) {
			if missing == "" {
				missing = name
			}
			return m
		}
		return url.PathEscape(stringify(v))
	})
	if missing != "" {
		return "", &SchemaBuildError{Method: d.Name, Path: missing}
	}
	return out, nil
}

func addQuery(q url.Values, key string, v any) {
	switch vv := v.(type) {
	case []any:
		for _, item := range vv {
			q.Add(key, stringify(item))
		}
	case []string:
		for _, item := range vv {
			q.Add(key, item)
		}
	case []int:
		for _, item := range vv {
			q.Add(key, strconv.Itoa(item))
		}
	default:
		q.Set(key, stringify(v))
	}
}

func stringify(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case time.Time:
		return vv.Format(time.RFC3339)
	case fmt.Stringer:
		return vv.String()
	default:
		return fmt.Sprint(vv)
	}
}

// FullURL returns the target URL with query parameters appended.
func (r *Request) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	sep := "?"
	if strings.Contains(r.URL, "?") {
		sep = "&"
	}
	return r.URL + sep + r.Query.Encode()
}

// HTTPRequest converts r to an *http.Request. base supplies client-wide
// headers; per-method headers win on conflict.
func (r *Request) HTTPRequest(ctx context.Context, base http.Header) (*http.Request, error) {
	var body *bytes.Reader
	contentType := "application/json"
	switch {
	case r.Body != nil && r.Form:
		fields, ok := r.Body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("apimethod: %s: form body must be an object, got %T", r.Name, r.Body)
		}
		form := url.Values{}
		for k, v := range fields {
			addQuery(form, k, v)
		}
		body = bytes.NewReader([]byte(form.Encode()))
		contentType = "application/x-www-form-urlencoded"
	case r.Body != nil:
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("apimethod: %s: marshal body: %w", r.Name, err)
		}
		body = bytes.NewReader(data)
	}

	var httpReq *http.Request
	var err error
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, r.Method, r.FullURL(), body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, r.Method, r.FullURL(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("apimethod: %s: create request: %w", r.Name, err)
	}

	for k, vs := range base {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range r.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if r.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}
