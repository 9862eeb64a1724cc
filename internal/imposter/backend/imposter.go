package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"stagehand/internal/imposter"
	"stagehand/pkg/logging"
)

const maxBodyBytes = 10 << 20

// stubCursor tracks where a stub is in its response cycle.
type stubCursor struct {
	index  int
	served int
}

// liveImposter is one listening imposter.
type liveImposter struct {
	spec     imposter.Spec
	server   *http.Server
	listener net.Listener

	mu               sync.Mutex
	requests         []imposter.CapturedRequest
	numberOfRequests int
	cursors          []stubCursor
}

func startImposter(host string, spec imposter.Spec) (*liveImposter, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(spec.Port)))
	if err != nil {
		return nil, err
	}
	spec.Port = ln.Addr().(*net.TCPAddr).Port

	li := &liveImposter{
		spec:     spec,
		listener: ln,
		cursors:  make([]stubCursor, len(spec.Stubs)),
	}
	li.server = &http.Server{Handler: li, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := li.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(subsystem, err, "Imposter on port %d stopped serving", spec.Port)
		}
	}()
	return li, nil
}

func (li *liveImposter) stop(ctx context.Context) {
	if err := li.server.Shutdown(ctx); err != nil {
		li.server.Close()
	}
}

func capture(r *http.Request, body []byte) imposter.CapturedRequest {
	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		query[k] = strings.Join(v, ",")
	}
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	return imposter.CapturedRequest{
		RequestFrom: r.RemoteAddr,
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       query,
		Headers:     headers,
		Body:        string(body),
		Timestamp:   time.Now().UTC(),
	}
}

func (li *liveImposter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := capture(r, body)

	li.mu.Lock()
	li.numberOfRequests++
	if li.spec.RecordRequests {
		li.requests = append(li.requests, req)
	}
	responder := li.selectLocked(req)
	li.mu.Unlock()

	if responder.Behaviors != nil && responder.Behaviors.Wait > 0 {
		select {
		case <-time.After(time.Duration(responder.Behaviors.Wait) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	li.write(w, responder, req)
}

// selectLocked picks the responder for req and advances the stub's cycle.
func (li *liveImposter) selectLocked(req imposter.CapturedRequest) imposter.Responder {
	for i, stub := range li.spec.Stubs {
		if !allMatch(stub.Predicates, req) {
			continue
		}
		if len(stub.Responses) == 0 {
			return imposter.Responder{Is: &imposter.Response{}}
		}

		cur := &li.cursors[i]
		responder := stub.Responses[cur.index%len(stub.Responses)]
		cur.served++
		repeat := 1
		if responder.Behaviors != nil && responder.Behaviors.Repeat > 1 {
			repeat = responder.Behaviors.Repeat
		}
		if cur.served >= repeat {
			cur.served = 0
			cur.index = (cur.index + 1) % len(stub.Responses)
		}
		return responder
	}

	if li.spec.DefaultResponse != nil {
		return imposter.Responder{Is: li.spec.DefaultResponse}
	}
	return imposter.Responder{Is: &imposter.Response{}}
}

func allMatch(predicates []imposter.Predicate, req imposter.CapturedRequest) bool {
	for _, p := range predicates {
		if !predicateMatches(p, req) {
			return false
		}
	}
	return true
}

func (li *liveImposter) write(w http.ResponseWriter, responder imposter.Responder, req imposter.CapturedRequest) {
	resp := responder.Is
	if resp == nil {
		resp = &imposter.Response{}
	}

	body, isJSON := bodyText(resp.Body)
	if responder.Behaviors != nil && responder.Behaviors.Template {
		rendered, err := render(body, req)
		if err != nil {
			logging.Warn(subsystem, "Imposter on port %d failed to render template: %v", li.spec.Port, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body = rendered
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if isJSON && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// bodyText unwraps a JSON string body; any other JSON value is served as-is.
func bodyText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s, false
		}
	}
	return string(trimmed), true
}

func render(text string, req imposter.CapturedRequest) (string, error) {
	tmpl, err := template.New("body").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]interface{}{"Request": req}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (li *liveImposter) state(withRequests bool) imposter.State {
	li.mu.Lock()
	defer li.mu.Unlock()

	st := imposter.State{Spec: li.spec, NumberOfRequests: li.numberOfRequests}
	if withRequests {
		st.Requests = make([]imposter.CapturedRequest, len(li.requests))
		copy(st.Requests, li.requests)
	} else {
		st.Stubs = nil
		st.DefaultResponse = nil
	}
	return st
}
