package sailthru

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/weaveworks/common/http/client"
	"github.com/weaveworks/common/instrument"
)

var clientRequestCollector = instrument.NewHistogramCollectorFromOpts(prometheus.HistogramOpts{
	Namespace: "commerce_sync",
	Subsystem: "sailthru_client",
	Name:      "request_duration_seconds",
	Help:      "Response time of Sailthru requests.",
})

func init() {
	clientRequestCollector.Register()
}

// Client defines the subset of the Sailthru API the worker uses.
type Client interface {
	// GetContent fetches the content record (title, tags, vars) for a course.
	GetContent(ctx context.Context, courseID string) (map[string]interface{}, error)
	// GetUser fetches the vars stored on the user's profile.
	GetUser(ctx context.Context, email string) (map[string]interface{}, error)
	// UpdateUser writes vars onto the user's profile, replacing the named keys.
	UpdateUser(ctx context.Context, email string, vars map[string]interface{}) error
	// Purchase records a purchase of items for the user. An incomplete
	// purchase is a cart add and schedules the reminder in options instead
	// of a completion template.
	Purchase(ctx context.Context, email string, items []PurchaseItem, options PurchaseOptions, incomplete bool, messageID string) error
}

// PurchaseItem is one line-item of a purchase submission.
type PurchaseItem struct {
	ID    string                 `json:"id"`
	URL   string                 `json:"url"`
	Title string                 `json:"title"`
	Tags  string                 `json:"tags,omitempty"`
	Price int64                  `json:"price"`
	Qty   int                    `json:"qty"`
	Vars  map[string]interface{} `json:"vars,omitempty"`
}

// PurchaseOptions selects the message template sent for a purchase. Exactly
// one of SendTemplate or ReminderTemplate/ReminderTime is set.
type PurchaseOptions struct {
	SendTemplate     string `json:"send_template,omitempty"`
	ReminderTemplate string `json:"reminder_template,omitempty"`
	ReminderTime     string `json:"reminder_time,omitempty"`
}

// Sailthru implements Client against the REST API.
type Sailthru struct {
	cl  client.Requester
	cfg Config
}

// New returns a Sailthru. If httpClient is nil, http.Client is instantiated.
func New(cfg Config, httpClient client.Requester) *Sailthru {
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sailthru{
		cl:  client.NewTimedClient(httpClient, clientRequestCollector),
		cfg: cfg,
	}
}

// GetContent fetches the content record for a course from the content API.
func (s *Sailthru) GetContent(ctx context.Context, courseID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := s.call(ctx, http.MethodGet, "content", map[string]interface{}{
		"id": courseID,
	}, &out)
	return out, err
}

// GetUser fetches the user's profile vars, keyed by email.
func (s *Sailthru) GetUser(ctx context.Context, email string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := s.call(ctx, http.MethodGet, "user", map[string]interface{}{
		"id":     email,
		"key":    "email",
		"fields": map[string]interface{}{"vars": 1},
	}, &out)
	return out, err
}

// UpdateUser posts vars onto the user's profile.
func (s *Sailthru) UpdateUser(ctx context.Context, email string, vars map[string]interface{}) error {
	return s.call(ctx, http.MethodPost, "user", map[string]interface{}{
		"id":   email,
		"key":  "email",
		"vars": vars,
	}, nil)
}

// Purchase records a purchase for the user.
func (s *Sailthru) Purchase(ctx context.Context, email string, items []PurchaseItem, options PurchaseOptions, incomplete bool, messageID string) error {
	payload := map[string]interface{}{
		"email": email,
		"items": items,
	}
	if incomplete {
		payload["incomplete"] = 1
	}
	if messageID != "" {
		payload["message_id"] = messageID
	}
	if options.SendTemplate != "" {
		payload["send_template"] = options.SendTemplate
	}
	if options.ReminderTemplate != "" {
		payload["reminder_template"] = options.ReminderTemplate
		payload["reminder_time"] = options.ReminderTime
	}
	return s.call(ctx, http.MethodPost, "purchase", payload, nil)
}

// envelope is the error shape Sailthru embeds in response bodies, regardless
// of HTTP status.
type envelope struct {
	Error    int    `json:"error"`
	ErrorMsg string `json:"errormsg"`
}

// call sends one signed request to the named API action and decodes the JSON
// response into dest. Application errors reported in the envelope come back
// as *APIError; anything going wrong with the request itself comes back as a
// plain error.
func (s *Sailthru) call(ctx context.Context, method, action string, payload map[string]interface{}, dest interface{}) error {
	vals, err := s.signedValues(payload)
	if err != nil {
		return errors.Wrapf(err, "encoding sailthru %s payload", action)
	}

	var req *http.Request
	if method == http.MethodGet {
		req, err = http.NewRequest(http.MethodGet, fmt.Sprintf("%s/%s?%s", s.cfg.Endpoint, action, vals.Encode()), nil)
	} else {
		req, err = http.NewRequest(method, fmt.Sprintf("%s/%s", s.cfg.Endpoint, action), strings.NewReader(vals.Encode()))
	}
	if err != nil {
		return err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	ctx = context.WithValue(ctx, client.OperationNameContextKey, action)
	resp, err := s.cl.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "sailthru %s request failed", action)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading sailthru %s response", action)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != 0 {
		return &APIError{Action: action, Code: env.Error, Msg: env.ErrorMsg}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("sailthru %s: unexpected status %s", action, resp.Status)
	}
	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return errors.Wrapf(err, "decoding sailthru %s response", action)
		}
	}
	return nil
}

// signedValues builds the standard request parameters: the JSON payload, the
// API key, and the md5 signature Sailthru requires on every call.
func (s *Sailthru) signedValues(payload map[string]interface{}) (url.Values, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	vals := url.Values{
		"api_key": {s.cfg.Key},
		"format":  {"json"},
		"json":    {string(body)},
	}
	vals.Set("sig", signature(s.cfg.Secret, vals))
	return vals, nil
}

// signature is md5(secret + all parameter values sorted alphabetically), as
// specified by Sailthru's API signing scheme.
func signature(secret string, vals url.Values) string {
	var parts []string
	for _, vs := range vals {
		parts = append(parts, vs...)
	}
	sort.Strings(parts)
	sum := md5.Sum([]byte(secret + strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}
