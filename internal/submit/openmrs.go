package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/gyeh/tm2ingest/internal/model"
)

const obsPath = "/ws/rest/v1/obs"

// maxDetailBytes caps the response text kept in an Error.
const maxDetailBytes = 300

// OpenMRSConfig configures the REST client.
type OpenMRSConfig struct {
	BaseURL  string
	Username string
	Password string
	// RatePerSecond caps request starts; zero or less means unlimited.
	RatePerSecond float64
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// OpenMRS posts each record as an observation to the OpenMRS REST API with
// basic auth and an Idempotency-Key header.
type OpenMRS struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter

	requests, succeeded, conflicts, failed atomic.Int64
}

// NewOpenMRS builds a client. Per-request deadlines come from the caller's
// context.
func NewOpenMRS(cfg OpenMRSConfig) (*OpenMRS, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("openmrs base url is empty")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond)))
	}
	return &OpenMRS{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		http:     hc,
		limiter:  lim,
	}, nil
}

type obsRequest struct {
	Person      string `json:"person"`
	Concept     string `json:"concept"`
	ObsDatetime string `json:"obsDatetime"`
	Value       string `json:"value"`
	Comment     string `json:"comment"`
	Location    string `json:"location,omitempty"`
}

type obsResponse struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func observation(rec *model.NormalizedRecord) obsRequest {
	concept := rec.Mapping.ConceptUUID
	if concept == "" {
		concept = rec.Mapping.Code
	}
	return obsRequest{
		Person:      rec.PatientID,
		Concept:     concept,
		ObsDatetime: rec.DiagnosisDay() + "T00:00:00.000+0000",
		Value:       string(rec.Severity),
		Comment: fmt.Sprintf("%s | %s | %s | practitioner %s",
			rec.Mapping.Code, rec.ConditionName, rec.SystemType, rec.PractitionerID),
	}
}

func (c *OpenMRS) Submit(ctx context.Context, key model.Key, rec *model.NormalizedRecord) (*model.Receipt, error) {
	c.requests.Add(1)
	r, err := c.submit(ctx, key, rec)
	switch {
	case err == nil:
		c.succeeded.Add(1)
	case IsConflict(err):
		c.conflicts.Add(1)
	default:
		c.failed.Add(1)
	}
	return r, err
}

func (c *OpenMRS) submit(ctx context.Context, key model.Key, rec *model.NormalizedRecord) (*model.Receipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			return nil, &Error{Kind: KindTimeout, Detail: "rate limit wait exceeds deadline"}
		}
		return nil, transportError(ctx, err)
	}

	body, err := json.Marshal(observation(rec))
	if err != nil {
		return nil, &Error{Kind: KindRejected, Detail: "encode observation: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+obsPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Detail: err.Error()}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", string(key))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var obs obsResponse
		if err := json.Unmarshal(respBody, &obs); err != nil || obs.UUID == "" {
			return nil, &Error{Kind: KindRejected, StatusCode: resp.StatusCode, Detail: "response has no observation uuid"}
		}
		return &model.Receipt{
			ID:         obs.UUID,
			Downstream: "openmrs",
			Resource:   "obs",
			AcceptedAt: time.Now().UTC(),
		}, nil
	}

	return nil, statusError(resp.StatusCode, respBody)
}

// statusError maps a non-2xx response to an Error kind.
func statusError(code int, body []byte) *Error {
	detail := strings.TrimSpace(string(body))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		detail = er.Error.Message
	}
	if len(detail) > maxDetailBytes {
		cut := maxDetailBytes
		for cut > 0 && !utf8.RuneStart(detail[cut]) {
			cut--
		}
		detail = detail[:cut]
	}

	kind := KindRejected
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = KindAuthFailure
	case code == http.StatusConflict:
		kind = KindConflict
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		kind = KindTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		kind = KindUnreachable
	}
	return &Error{Kind: kind, StatusCode: code, Detail: detail}
}

func transportError(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Detail: "submission deadline exceeded"}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Detail: err.Error()}
	}
	return &Error{Kind: KindUnreachable, Detail: err.Error()}
}

func (c *OpenMRS) Stats() Stats {
	return Stats{
		Requests:  c.requests.Load(),
		Succeeded: c.succeeded.Load(),
		Conflicts: c.conflicts.Load(),
		Failed:    c.failed.Load(),
	}
}
