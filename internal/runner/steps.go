package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"stagehand/internal/environment"
	"stagehand/internal/services"
	"stagehand/internal/world"
)

// ActionFunc executes one step.
type ActionFunc func(ctx context.Context, w *world.World, step environment.Step) error

// Steps dispatches steps to actions by name.
type Steps struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// NewSteps returns a step runner with the built-in actions.
func NewSteps() *Steps {
	s := &Steps{actions: make(map[string]ActionFunc)}
	s.actions["http"] = httpAction
	s.actions["imposter-requests"] = imposterRequestsAction
	s.actions["stop"] = stopAction
	s.actions["sleep"] = sleepAction
	return s
}

// Register adds or replaces an action.
func (s *Steps) Register(action string, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// Actions returns the known action names, sorted.
func (s *Steps) Actions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.actions))
	for n := range s.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunStep implements StepRunner.
func (s *Steps) RunStep(ctx context.Context, w *world.World, step environment.Step) error {
	s.mu.RLock()
	fn, ok := s.actions[step.Action]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown action %q (known: %s)", step.Action, strings.Join(s.Actions(), ", "))
	}
	return fn(ctx, w, step)
}

type httpArgs struct {
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
	Body    interface{}       `yaml:"body"`
	Retries int               `yaml:"retries"`
}

type httpExpect struct {
	Status       int               `yaml:"status"`
	BodyContains string            `yaml:"bodyContains"`
	Headers      map[string]string `yaml:"headers"`
}

func httpAction(ctx context.Context, w *world.World, step environment.Step) error {
	var args httpArgs
	var expect httpExpect
	if err := decodeStep(step, &args, &expect); err != nil {
		return err
	}

	r, ok := w.Lookup(step.Target)
	if !ok {
		return fmt.Errorf("no resource named %q", step.Target)
	}
	if args.Method == "" {
		args.Method = http.MethodGet
	}

	var body io.Reader
	switch b := args.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(raw)
		if args.Headers == nil {
			args.Headers = map[string]string{}
		}
		if _, set := args.Headers["Content-Type"]; !set {
			args.Headers["Content-Type"] = "application/json"
		}
	}

	url := strings.TrimSuffix(r.Location().URL(), "/") + "/" + strings.TrimPrefix(args.Path, "/")
	req, err := retryablehttp.NewRequestWithContext(ctx, strings.ToUpper(args.Method), url, body)
	if err != nil {
		return err
	}
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = args.Retries
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, url, err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if expect.Status != 0 && resp.StatusCode != expect.Status {
		return fmt.Errorf("%s %s: expected status %d, got %d", req.Method, args.Path, expect.Status, resp.StatusCode)
	}
	if expect.Status == 0 && resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", req.Method, args.Path, resp.StatusCode)
	}
	if expect.BodyContains != "" && !strings.Contains(string(content), expect.BodyContains) {
		return fmt.Errorf("%s %s: body does not contain %q", req.Method, args.Path, expect.BodyContains)
	}
	for k, v := range expect.Headers {
		if got := resp.Header.Get(k); got != v {
			return fmt.Errorf("%s %s: header %s is %q, expected %q", req.Method, args.Path, k, got, v)
		}
	}
	return nil
}

type requestsExpect struct {
	Count  *int   `yaml:"count"`
	Min    int    `yaml:"min"`
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

func imposterRequestsAction(ctx context.Context, w *world.World, step environment.Step) error {
	var expect requestsExpect
	if err := decodeStep(step, nil, &expect); err != nil {
		return err
	}

	imp, ok := w.Imposter(step.Target)
	if !ok {
		return fmt.Errorf("no imposter named %q", step.Target)
	}
	requests, err := imp.Requests(ctx)
	if err != nil {
		return err
	}

	matched := 0
	for _, r := range requests {
		if expect.Method != "" && !strings.EqualFold(r.Method, expect.Method) {
			continue
		}
		if expect.Path != "" && r.Path != expect.Path {
			continue
		}
		matched++
	}

	if expect.Count != nil && matched != *expect.Count {
		return fmt.Errorf("imposter %s: expected %d matching request(s), got %d", step.Target, *expect.Count, matched)
	}
	if matched < expect.Min {
		return fmt.Errorf("imposter %s: expected at least %d matching request(s), got %d", step.Target, expect.Min, matched)
	}
	return nil
}

func stopAction(ctx context.Context, w *world.World, step environment.Step) error {
	return w.StopService(ctx, step.Target)
}

type sleepArgs struct {
	Duration time.Duration `yaml:"duration"`
}

func sleepAction(ctx context.Context, _ *world.World, step environment.Step) error {
	var args sleepArgs
	if err := decodeStep(step, &args, nil); err != nil {
		return err
	}
	t := time.NewTimer(args.Duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeStep(step environment.Step, args, expect interface{}) error {
	if args != nil && step.Args != nil {
		if err := services.DecodeConfig(step.ID, step.Args, args); err != nil {
			return err
		}
	}
	if expect != nil && step.Expect != nil {
		if err := services.DecodeConfig(step.ID, step.Expect, expect); err != nil {
			return err
		}
	}
	return nil
}
