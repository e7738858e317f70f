package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"licenseapi/internal/config"
	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/infrastructure"
	"licenseapi/pkg/contracts"
	"licenseapi/pkg/contracts/domain"
)

const (
	activatePath = "/v1/licenses/activate"
	validatePath = "/v1/licenses/validate"

	// Responses larger than this are not license payloads
	maxResponseBytes = 1 << 20
)

// CreemClient implements Checker against the Creem license API
type CreemClient struct {
	baseURL         string
	apiKey          string
	defaultInstance string
	retryAfter      int
	httpClient      *http.Client
	limiter         *rate.Limiter
	logger          *slog.Logger
}

// NewCreemClient builds a client from the billing configuration
func NewCreemClient(cfg config.BillingConfig, logger *slog.Logger) *CreemClient {
	retryAfter := cfg.RetryAfterSeconds
	if retryAfter <= 0 {
		retryAfter = config.DefaultBillingRetryAfter
	}
	instance := cfg.InstanceName
	if instance == "" {
		instance = config.DefaultInstanceName
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &CreemClient{
		baseURL:         cfg.ResolvedBaseURL(),
		apiKey:          cfg.APIKey,
		defaultInstance: instance,
		retryAfter:      retryAfter,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		limiter:         rate.NewLimiter(limit, burst),
		logger:          logger.With(slog.String("component", "billing_client")),
	}
}

// creemResponse covers both the activate and validate payloads
type creemResponse struct {
	Status    string          `json:"status"`
	ExpiresAt string          `json:"expires_at"`
	Instance  json.RawMessage `json:"instance"`
	Message   json.RawMessage `json:"message"`
}

type creemInstance struct {
	ID string `json:"id"`
}

// instanceID returns the instance id from an object or the last element of a list
func (r *creemResponse) instanceID() string {
	raw := bytes.TrimSpace(r.Instance)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '[':
		var list []creemInstance
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return ""
		}
		return list[len(list)-1].ID
	case '{':
		var inst creemInstance
		if err := json.Unmarshal(raw, &inst); err != nil {
			return ""
		}
		return inst.ID
	}
	return ""
}

// message returns the error message, joining list forms with ", "
func (r *creemResponse) message() string {
	raw := bytes.TrimSpace(r.Message)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ", ")
	}
	return ""
}

func (r *creemResponse) expiresAt() *time.Time {
	if r.ExpiresAt == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, r.ExpiresAt)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// Check activates the key idempotently, then validates the returned instance.
// Transport failures fail closed with a retry hint.
func (c *CreemClient) Check(ctx context.Context, licenseKey, instanceName string) *Result {
	key := domain.NormalizeLicenseKey(licenseKey)
	if instanceName == "" {
		instanceName = c.defaultInstance
	}

	status, activated, err := c.post(ctx, activatePath, map[string]string{
		"key":           key,
		"instance_name": instanceName,
	})
	if err != nil {
		return c.unavailable(ctx, err)
	}
	// The authority answers 403 when every activation slot is used: the key is
	// valid, it just cannot take more instances. Only a parsed JSON 403 counts.
	if status == http.StatusForbidden {
		return &Result{Valid: true, Status: StatusActive}
	}

	c.logger.DebugContext(ctx, "billing activate response", slog.Int("status", status))

	if !isSuccess(status) {
		msg := activated.message()
		if msg == "" {
			msg = "Creem validation failed"
		}
		c.logger.WarnContext(ctx, "billing activation refused",
			slog.Int("status", status),
			slog.String("reason", msg))
		return &Result{Valid: false, Status: StatusInvalid, Error: msg}
	}

	if instanceID := activated.instanceID(); instanceID != "" {
		vstatus, validated, err := c.post(ctx, validatePath, map[string]string{
			"key":         key,
			"instance_id": instanceID,
		})
		if err != nil {
			return c.unavailable(ctx, err)
		}
		if isSuccess(vstatus) {
			res := &Result{
				Valid:     validated.Status == StatusActive,
				Status:    validated.Status,
				ExpiresAt: validated.expiresAt(),
			}
			if res.Status == "" {
				res.Status = "unknown"
			}
			if !res.Valid {
				res.Error = fmt.Sprintf("License status: %s", validated.Status)
			}
			return res
		}
		c.logger.WarnContext(ctx, "billing validate failed, using activation status",
			slog.Int("status", vstatus))
	}

	activeStatus := activated.Status
	if activeStatus == "" {
		activeStatus = StatusActive
	}
	return &Result{
		Valid:     activeStatus == StatusActive,
		Status:    activeStatus,
		ExpiresAt: activated.expiresAt(),
	}
}

func (c *CreemClient) unavailable(ctx context.Context, err error) *Result {
	status := StatusError
	if isTimeout(err) {
		status = StatusTimeout
	}
	berr := apierrors.NewBillingError("billing authority unavailable", err).
		WithContext("status", status)
	infrastructure.RecordError(ctx, berr)
	c.logger.ErrorContext(ctx, "billing authority unavailable, failing closed",
		slog.String("status", status),
		slog.String("error", berr.Error()))
	return &Result{
		Valid:      false,
		Status:     status,
		Error:      UnavailableMessage,
		RetryAfter: c.retryAfter,
	}
}

// post sends one JSON request. A non-JSON body is an error regardless of status.
func (c *CreemClient) post(ctx context.Context, path string, payload any) (int, *creemResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("billing rate limit: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("User-Agent", contracts.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	var parsed creemResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode %s response (status %d): %w", path, resp.StatusCode, err)
	}
	return resp.StatusCode, &parsed, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
