// Package exchange holds the per-request state threaded through the
// processing chain: the inbound request, a buffered response, the completion
// flag observed by the transport and the attributes plugins share.
//
// An Exchange is used by one goroutine at a time. The only hand-off happens
// after the response is flushed, when Detach produces an independent copy
// for post-response work.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// PipelineType tells which kind of handler terminates the pipeline.
type PipelineType string

const (
	PipelineService PipelineType = "service"
	PipelineProxy   PipelineType = "proxy"
	PipelineStatic  PipelineType = "static"
)

// PipelineInfo identifies the pipeline an exchange was routed to.
type PipelineInfo struct {
	Type PipelineType
	Name string
	URI  string
}

// Exchange is the mutable state of one request/response round trip.
type Exchange struct {
	id      string
	ctx     context.Context
	req     *http.Request
	started time.Time

	status int
	header http.Header
	body   bytes.Buffer

	complete          bool
	inError           bool
	blocked           bool
	sent              bool
	responseIntercept bool
	filterContent     bool

	content       []byte
	contentLoaded bool

	account  *Account
	info     PipelineInfo
	attrs    map[string]any
	snapshot any
}

// New creates the exchange for an inbound request.
func New(r *http.Request) *Exchange {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	return &Exchange{
		id:      uuid.NewString(),
		ctx:     ctx,
		req:     r,
		started: time.Now(),
		header:  make(http.Header),
	}
}

// ID returns the unique identifier assigned to the exchange.
func (e *Exchange) ID() string { return e.id }

// Context returns the request context. For detached exchanges it is no
// longer cancelled by the client connection.
func (e *Exchange) Context() context.Context { return e.ctx }

// Request returns the inbound request.
func (e *Exchange) Request() *http.Request { return e.req }

// Method returns the request method.
func (e *Exchange) Method() string {
	if e.req == nil {
		return ""
	}
	return e.req.Method
}

// Path returns the request path.
func (e *Exchange) Path() string {
	if e.req == nil || e.req.URL == nil {
		return ""
	}
	return e.req.URL.Path
}

// Started returns the time the exchange was created.
func (e *Exchange) Started() time.Time { return e.started }

// Status returns the response status, defaulting to 200.
func (e *Exchange) Status() int {
	if e.status == 0 {
		return http.StatusOK
	}
	return e.status
}

// SetStatus sets the response status code.
func (e *Exchange) SetStatus(code int) { e.status = code }

// Header returns the response headers.
func (e *Exchange) Header() http.Header { return e.header }

// Write appends to the buffered response body.
func (e *Exchange) Write(p []byte) (int, error) { return e.body.Write(p) }

// Body returns the buffered response body.
func (e *Exchange) Body() []byte { return e.body.Bytes() }

// SetBody replaces the buffered response body.
func (e *Exchange) SetBody(p []byte) {
	e.body.Reset()
	e.body.Write(p)
}

// WriteJSON replaces the body with the JSON encoding of v.
func (e *Exchange) WriteJSON(status int, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.header.Set("Content-Type", "application/json")
	e.SetStatus(status)
	e.SetBody(raw)
	return nil
}

// SetInError marks the response as an error with the given status and
// message. It does not complete the response.
func (e *Exchange) SetInError(status int, message string) {
	e.inError = true
	_ = e.WriteJSON(status, map[string]any{
		"http status code":        status,
		"http status description": http.StatusText(status),
		"message":                 message,
	})
}

// InError reports whether a handler or interceptor flagged an error.
func (e *Exchange) InError() bool { return e.inError }

// ResponseComplete reports whether the response is finalized. Once true, no
// further synchronous processing happens for the exchange.
func (e *Exchange) ResponseComplete() bool { return e.complete }

// MarkComplete finalizes the response.
func (e *Exchange) MarkComplete() { e.complete = true }

// Blocked reports whether the request was flagged to be rejected with 429.
func (e *Exchange) Blocked() bool { return e.blocked }

// SetBlocked flags the request as blocked.
func (e *Exchange) SetBlocked(blocked bool) { e.blocked = blocked }

// Account returns the authenticated account, or nil.
func (e *Exchange) Account() *Account { return e.account }

// SetAccount records the authenticated account.
func (e *Exchange) SetAccount(acc *Account) { e.account = acc }

// PipelineInfo returns the pipeline the exchange was routed to.
func (e *Exchange) PipelineInfo() PipelineInfo { return e.info }

// SetPipelineInfo records the pipeline the exchange was routed to.
func (e *Exchange) SetPipelineInfo(info PipelineInfo) { e.info = info }

// FilterRequiringContent reports whether interceptors needing the request
// body must be skipped for this exchange.
func (e *Exchange) FilterRequiringContent() bool { return e.filterContent }

// SetFilterRequiringContent toggles skipping of body-dependent interceptors.
func (e *Exchange) SetFilterRequiringContent(v bool) { e.filterContent = v }

// ResponseInterceptorsExecuted reports whether the response stage already ran.
func (e *Exchange) ResponseInterceptorsExecuted() bool { return e.responseIntercept }

// SetResponseInterceptorsExecuted marks the response stage as executed.
func (e *Exchange) SetResponseInterceptorsExecuted() { e.responseIntercept = true }

// Content reads and buffers the request body. Later reads of the request
// body see the same bytes.
func (e *Exchange) Content() ([]byte, error) {
	if e.contentLoaded {
		return e.content, nil
	}
	e.contentLoaded = true
	if e.req == nil || e.req.Body == nil || e.req.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(e.req.Body)
	_ = e.req.Body.Close()
	if err != nil {
		return nil, err
	}
	e.content = raw
	e.req.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// ContentLoaded reports whether the request body has been buffered.
func (e *Exchange) ContentLoaded() bool { return e.contentLoaded }

// Attr returns an attribute set by an earlier handler.
func (e *Exchange) Attr(key string) (any, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// SetAttr stores an attribute for later handlers.
func (e *Exchange) SetAttr(key string, value any) {
	if e.attrs == nil {
		e.attrs = make(map[string]any)
	}
	e.attrs[key] = value
}

// Snapshot returns the value pinned with SetSnapshot, or nil.
func (e *Exchange) Snapshot() any { return e.snapshot }

// SetSnapshot pins the plugin registry snapshot the exchange is processed
// against. The value is opaque to this package.
func (e *Exchange) SetSnapshot(v any) { e.snapshot = v }

// Sent reports whether the response was written to the client.
func (e *Exchange) Sent() bool { return e.sent }

// Flush writes the buffered response to w. It is called once by the
// transport after the chain returns.
func (e *Exchange) Flush(w http.ResponseWriter) error {
	if e.sent {
		return nil
	}
	e.sent = true
	dst := w.Header()
	for k, v := range e.header {
		dst[k] = append([]string(nil), v...)
	}
	w.WriteHeader(e.Status())
	if e.body.Len() == 0 || e.Method() == http.MethodHead {
		return nil
	}
	_, err := w.Write(e.body.Bytes())
	return err
}

// Detach returns a copy of the exchange whose context survives the client
// connection. Headers, body and account are copied; attribute values and the
// pinned snapshot are shared with the original.
func (e *Exchange) Detach() *Exchange {
	ctx := context.WithoutCancel(e.ctx)
	dup := &Exchange{
		id:                e.id,
		ctx:               ctx,
		started:           e.started,
		status:            e.status,
		header:            e.header.Clone(),
		complete:          true,
		inError:           e.inError,
		blocked:           e.blocked,
		sent:              e.sent,
		responseIntercept: e.responseIntercept,
		filterContent:     e.filterContent,
		content:           e.content,
		contentLoaded:     e.contentLoaded,
		account:           e.account.Clone(),
		info:              e.info,
		snapshot:          e.snapshot,
	}
	if e.req != nil {
		dup.req = e.req.Clone(ctx)
		dup.req.Body = http.NoBody
	}
	dup.body.Write(e.body.Bytes())
	if len(e.attrs) > 0 {
		dup.attrs = make(map[string]any, len(e.attrs))
		for k, v := range e.attrs {
			dup.attrs[k] = v
		}
	}
	return dup
}
