package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/phlag/phlagd/internal/repository"
)

// Event types emitted by this service. Stored webhook subscriptions are an
// open string set, so rows may reference names this binary does not emit.
const (
	EventCreated                 = "created"
	EventUpdated                 = "updated"
	EventDeleted                 = "deleted"
	EventEnvironmentValueUpdated = "environment_value_updated"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 1
	maxResponseBody   = 64 << 10
)

// ErrPrivateAddress marks a delivery aborted by the private-network guard.
var ErrPrivateAddress = errors.New("webhook host resolves to a private address")

// HTTPError is a delivery that reached the endpoint but got a non-2xx
// status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webhook endpoint returned status %d", e.StatusCode)
}

// Repository is the data-access collaborator the dispatcher reads webhooks,
// flags, and environment values through.
type Repository interface {
	ListActiveWebhooks(ctx context.Context, environmentChanges bool) ([]repository.Webhook, error)
	GetFlagByID(ctx context.Context, id string) (repository.Flag, error)
	ListEnvironments(ctx context.Context) ([]repository.Environment, error)
	ListEnvironmentValuesForFlag(ctx context.Context, flagID string) ([]repository.EnvironmentValue, error)
}

// TestResult is the structured outcome of a test delivery, surfaced to the
// admin caller for display.
type TestResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Option configures optional dispatcher parameters.
type Option func(*Dispatcher)

// WithLogger sets the logger used for delivery outcomes.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxRetries sets how many additional attempts follow a failed send.
func WithMaxRetries(maxRetries int) Option {
	return func(d *Dispatcher) {
		if maxRetries >= 0 {
			d.maxRetries = maxRetries
		}
	}
}

// WithHTTPClient replaces the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithResolver replaces the DNS resolver consulted by the private-network
// guard.
func WithResolver(lookup func(ctx context.Context, host string) ([]net.IP, error)) Option {
	return func(d *Dispatcher) {
		if lookup != nil {
			d.lookupIP = lookup
		}
	}
}

// WithDeliveryRecorder registers a callback invoked with the outcome of
// every delivery (e.g. to increment a Prometheus counter).
func WithDeliveryRecorder(record func(outcome string)) Option {
	return func(d *Dispatcher) { d.record = record }
}

// WithNow overrides the clock used for payload timestamps.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher delivers mutation events to subscribed webhook endpoints.
// Normal dispatch never returns an error to the caller; every failure is
// categorized, logged, and swallowed so the triggering mutation always
// succeeds regardless of webhook outcomes.
type Dispatcher struct {
	repo       Repository
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	log        *slog.Logger
	lookupIP   func(ctx context.Context, host string) ([]net.IP, error)
	record     func(outcome string)
	now        func() time.Time
}

// NewDispatcher creates a [Dispatcher] with the default 5s timeout and one
// retry.
func NewDispatcher(repo Repository, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:       repo,
		client:     &http.Client{},
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		log:        slog.Default(),
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch notifies subscribed webhooks of a flag lifecycle event (created,
// updated, deleted). previous carries the pre-mutation snapshot for
// update-type events and is nil otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, flag repository.Flag, previous *FlagSnapshot) {
	snapshot, err := d.Snapshot(ctx, flag)
	if err != nil {
		d.log.Error("webhook dispatch: build flag snapshot", "flag", flag.Name, "error", err)
		return
	}

	d.dispatchSnapshot(ctx, eventType, snapshot, previous, false)
}

// DispatchDeleted notifies subscribed webhooks that a flag was removed. The
// caller captures the snapshot before deleting, since the rows backing it no
// longer exist by dispatch time.
func (d *Dispatcher) DispatchDeleted(ctx context.Context, snapshot FlagSnapshot) {
	d.dispatchSnapshot(ctx, EventDeleted, snapshot, nil, false)
}

// DispatchEnvironmentChange notifies subscribed webhooks of an
// environment-level value change. Only webhooks that explicitly opted into
// environment changes are considered, regardless of their event-type set.
func (d *Dispatcher) DispatchEnvironmentChange(ctx context.Context, eventType string, value repository.EnvironmentValue) {
	flag, err := d.repo.GetFlagByID(ctx, value.FlagID)
	if err != nil {
		d.log.Error("webhook dispatch: resolve flag for environment change", "flag_id", value.FlagID, "error", err)
		return
	}

	snapshot, err := d.Snapshot(ctx, flag)
	if err != nil {
		d.log.Error("webhook dispatch: build flag snapshot", "flag", flag.Name, "error", err)
		return
	}

	d.dispatchSnapshot(ctx, eventType, snapshot, nil, true)
}

// DispatchTest performs one real delivery to the given webhook using the
// currently stored data for the flag, bypassing activity and subscription
// filters. Unlike normal dispatch the outcome is surfaced to the caller.
func (d *Dispatcher) DispatchTest(ctx context.Context, webhook repository.Webhook, flag repository.Flag) TestResult {
	snapshot, err := d.Snapshot(ctx, flag)
	if err != nil {
		return TestResult{Error: err.Error()}
	}

	payload, err := RenderPayload(webhook.PayloadTemplate, EventContext{
		EventType: EventUpdated,
		Flag:      snapshot,
		Timestamp: d.now().Format(time.RFC3339),
	})
	if err != nil {
		return TestResult{Error: err.Error()}
	}

	statusCode, body, err := d.deliver(ctx, webhook, payload)
	result := TestResult{
		Success:      err == nil,
		StatusCode:   statusCode,
		ResponseBody: body,
	}
	if err != nil {
		result.Error = err.Error()
	}

	return result
}

// Snapshot builds the template-visible view of a flag: its attributes plus
// every configured environment value, sorted by environment name.
func (d *Dispatcher) Snapshot(ctx context.Context, flag repository.Flag) (FlagSnapshot, error) {
	environments, err := d.repo.ListEnvironments(ctx)
	if err != nil {
		return FlagSnapshot{}, fmt.Errorf("list environments: %w", err)
	}

	namesByID := make(map[string]string, len(environments))
	for _, env := range environments {
		namesByID[env.ID] = env.Name
	}

	values, err := d.repo.ListEnvironmentValuesForFlag(ctx, flag.ID)
	if err != nil {
		return FlagSnapshot{}, fmt.Errorf("list environment values: %w", err)
	}

	snapshots := make([]EnvironmentSnapshot, 0, len(values))
	for _, value := range values {
		snapshots = append(snapshots, EnvironmentSnapshot{
			Name:          namesByID[value.EnvironmentID],
			Value:         value.Value,
			StartDatetime: formatTimestamp(value.StartDatetime),
			EndDatetime:   formatTimestamp(value.EndDatetime),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})

	return FlagSnapshot{
		Name:         flag.Name,
		Type:         flag.Type,
		Description:  flag.Description,
		Environments: snapshots,
	}, nil
}

func (d *Dispatcher) dispatchSnapshot(ctx context.Context, eventType string, snapshot FlagSnapshot, previous *FlagSnapshot, environmentChanges bool) {
	webhooks, err := d.repo.ListActiveWebhooks(ctx, environmentChanges)
	if err != nil {
		d.log.Error("webhook dispatch: load webhooks", "event_type", eventType, "error", err)
		return
	}

	eventContext := EventContext{
		EventType: eventType,
		Flag:      snapshot,
		Previous:  previous,
		Timestamp: d.now().Format(time.RFC3339),
	}
	if previous != nil {
		eventContext.OldEnvironments = previous.Environments
	}

	delivered := 0
	for _, webhook := range webhooks {
		if !SubscribedTo(webhook, eventType) {
			continue
		}
		delivered++

		payload, err := RenderPayload(webhook.PayloadTemplate, eventContext)
		if err != nil {
			d.recordOutcome("render_error")
			d.log.Error("webhook dispatch: render payload",
				"webhook", webhook.Name, "event_type", eventType, "error", err)
			continue
		}

		if statusCode, _, err := d.deliver(ctx, webhook, payload); err != nil {
			d.recordOutcome(outcomeForError(err))
			d.log.Error("webhook dispatch: delivery failed",
				"webhook", webhook.Name, "event_type", eventType, "status", statusCode, "error", err)
			continue
		}

		d.recordOutcome("delivered")
		d.log.Info("webhook delivered", "webhook", webhook.Name, "event_type", eventType)
	}

	if delivered == 0 {
		d.log.Debug("no matching webhooks", "event_type", eventType)
	}
}

// deliver sends the payload, retrying failed attempts sequentially up to the
// configured count. The timeout applies per attempt, not across retries. The
// private-network guard is non-retryable; a second resolution would race the
// same rebinding window the guard exists to close.
func (d *Dispatcher) deliver(ctx context.Context, webhook repository.Webhook, payload string) (int, string, error) {
	var (
		statusCode int
		body       string
		err        error
	)
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		statusCode, body, err = d.send(ctx, webhook, payload)
		if err == nil || errors.Is(err, ErrPrivateAddress) {
			return statusCode, body, err
		}
	}

	return statusCode, body, err
}

func (d *Dispatcher) send(ctx context.Context, webhook repository.Webhook, payload string) (int, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.guardHost(attemptCtx, webhook.URL); err != nil {
		return 0, "", err
	}

	request, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, webhook.URL, strings.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build webhook request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	for name, value := range CustomHeaders(webhook) {
		request.Header.Set(name, value)
	}

	response, err := d.client.Do(request)
	if err != nil {
		return 0, "", fmt.Errorf("send webhook request: %w", err)
	}
	defer response.Body.Close()

	responseBody, _ := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return response.StatusCode, string(responseBody), &HTTPError{StatusCode: response.StatusCode}
	}

	return response.StatusCode, string(responseBody), nil
}

// guardHost blocks sends whose host resolves to a reserved private range.
// The local testing hosts the validator allows are exempt.
func (d *Dispatcher) guardHost(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}

	host := parsed.Hostname()
	if localTestHosts[host] {
		return nil
	}

	ips, err := d.lookupIP(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve webhook host %q: %w", host, err)
	}

	for _, ip := range ips {
		if IsPrivateIP(ip.String()) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, ip)
		}
	}

	return nil
}

func (d *Dispatcher) recordOutcome(outcome string) {
	if d.record != nil {
		d.record(outcome)
	}
}

func outcomeForError(err error) string {
	var httpErr *HTTPError
	switch {
	case errors.Is(err, ErrPrivateAddress):
		return "ssrf_blocked"
	case errors.As(err, &httpErr):
		return "http_error"
	default:
		return "network_error"
	}
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
