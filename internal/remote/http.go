package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/logger"
	"wsotp/internal/metrics"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	loginTimeout   = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// alreadyExistsHints are lowercase fragments of remote messages that mean the
// number cannot be registered through this account.
var alreadyExistsHints = []string{
	"already exists",
	"cannot register",
	"number exists",
	"invalid",
	"wrong format",
}

// HTTPClient implements Client against the registration API over HTTP.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

// NewHTTPClient returns a client for baseURL. requestsPerSecond <= 0 disables pacing.
func NewHTTPClient(baseURL string, timeout time.Duration, requestsPerSecond float64) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// do performs one request and returns the status code and body.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, token string, payload any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Admin-Token", token)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	metrics.RemoteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(op, "error").Inc()
		return 0, nil, err
	}
	defer resp.Body.Close()
	metrics.RemoteRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// Login authenticates an account, retrying once on any failure.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (Session, error) {
	var lastErr error
	for attempt := 1; attempt <= LoginAttempts; attempt++ {
		s, err := c.login(ctx, username, password)
		if err == nil {
			return s, nil
		}
		lastErr = err
		logger.Warn("[remote] login %s attempt %d failed: %v", username, attempt, err)
		if ctx.Err() != nil {
			break
		}
	}
	return Session{}, lastErr
}

func (c *HTTPClient) login(ctx context.Context, username, password string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	payload := map[string]string{
		"account":  username,
		"password": password,
		"identity": "Member",
	}
	status, body, err := c.do(ctx, "login", http.MethodPost, "/user/login", nil, "", payload)
	if err != nil {
		return Session{}, fmt.Errorf("login %s: %w", username, err)
	}
	if status != http.StatusOK {
		return Session{}, fmt.Errorf("login %s: status %d: %w", username, status, apperrors.ErrAuthFailed)
	}

	var resp struct {
		Msg  string `json:"msg"`
		Data *struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := decodeJSON(body, &resp); err != nil {
		return Session{}, fmt.Errorf("login %s: %w", username, err)
	}
	if resp.Data == nil || resp.Data.Token == "" {
		return Session{}, fmt.Errorf("login %s: %q: %w", username, resp.Msg, apperrors.ErrAuthFailed)
	}

	s := Session{Token: resp.Data.Token}
	s.APIUserID, s.Nickname = tokenClaims(resp.Data.Token)
	return s, nil
}

// tokenClaims reads the user id and nickname from the login token. The
// signature is not verified; the token is only ever sent back to its issuer.
func tokenClaims(token string) (int64, string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, ""
	}
	var id int64
	switch v := claims["id"].(type) {
	case float64:
		id = int64(v)
	case string:
		id, _ = strconv.ParseInt(v, 10, 64)
	}
	nickname, _ := claims["nickname"].(string)
	return id, nickname
}

// AddNumber submits a number for registration.
func (c *HTTPClient) AddNumber(ctx context.Context, token, cc, phone string) AddResult {
	query := url.Values{}
	query.Set("cc", cc)
	query.Set("phoneNum", phone)
	query.Set("smsStatus", "2")

	result := AddOtherError
	for attempt := 1; attempt <= AddAttempts; attempt++ {
		status, _, err := c.do(ctx, "add", http.MethodPost, "/z-number-base/addNum", query, token, nil)
		switch {
		case err != nil:
			logger.Warn("[remote] add %s attempt %d: %v", phone, attempt, err)
			result = AddOtherError
			if ctx.Err() != nil {
				return result
			}
		case status == http.StatusOK:
			return AddAdded
		case status == http.StatusUnauthorized:
			result = AddAuthExpired
		case status == http.StatusBadRequest || status == http.StatusConflict:
			return AddAlreadyExists
		default:
			logger.Warn("[remote] add %s attempt %d: status %d", phone, attempt, status)
			result = AddOtherError
		}
	}
	return result
}

type statusResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Records []map[string]json.RawMessage `json:"records"`
	} `json:"data"`
}

// GetStatus looks up the registration status of a number.
func (c *HTTPClient) GetStatus(ctx context.Context, token, phone string) StatusResult {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("pageSize", "15")
	query.Set("phoneNum", phone)

	status, body, err := c.do(ctx, "status", http.MethodGet, "/z-number-base/getAullNum", query, token, nil)
	if err != nil {
		return StatusResult{Code: StatusAPIError, Message: err.Error()}
	}
	if status == http.StatusUnauthorized {
		return StatusResult{Code: StatusAuthExpired}
	}

	var res statusResponse
	if err := decodeJSON(body, &res); err != nil {
		return StatusResult{Code: StatusAPIError, Message: err.Error()}
	}
	return parseStatus(res)
}

func parseStatus(res statusResponse) StatusResult {
	if res.Code == 28004 {
		return StatusResult{Code: StatusAuthExpired, Message: res.Msg}
	}

	msg := strings.ToLower(res.Msg)
	for _, hint := range alreadyExistsHints {
		if strings.Contains(msg, hint) {
			return StatusResult{Code: StatusAlreadyExists, Message: res.Msg}
		}
	}
	if res.Code == 400 || res.Code == 409 {
		return StatusResult{Code: StatusAlreadyExists, Message: res.Msg}
	}

	if res.Data == nil || len(res.Data.Records) == 0 {
		return StatusResult{Code: StatusNoData, Message: res.Msg}
	}

	record := res.Data.Records[0]
	out := StatusResult{Code: StatusUnknown, Message: res.Msg}
	if raw, ok := record["registrationStatus"]; ok {
		var code int
		if err := json.Unmarshal(raw, &code); err == nil {
			out.Code = StatusCode(code)
		}
	}
	out.RecordID = rawString(record["id"])
	for _, field := range []string{"phoneNum", "phone", "phoneNumber", "mobile", "number"} {
		if v := rawString(record[field]); v != "" {
			out.ActualPhone = v
			break
		}
	}
	return out
}

// DeleteNumber removes a registration record.
func (c *HTTPClient) DeleteNumber(ctx context.Context, token, recordID string) bool {
	if recordID == "" {
		return false
	}
	status, _, err := c.do(ctx, "delete", http.MethodDelete, "/z-number-base/deleteNum/"+url.PathEscape(recordID), nil, token, nil)
	if err != nil {
		logger.Warn("[remote] delete %s: %v", recordID, err)
		return false
	}
	return status == http.StatusOK
}

// SubmitCode uploads a verification code for a number.
func (c *HTTPClient) SubmitCode(ctx context.Context, token, phone, code string) (bool, string) {
	query := url.Values{}
	query.Set("phoneNum", phone)
	query.Set("code", code)

	status, body, err := c.do(ctx, "code", http.MethodGet, "/z-number-base/allNum/uploadCode", query, token, nil)
	if err != nil {
		return false, err.Error()
	}
	if status != http.StatusOK {
		return false, fmt.Sprintf("HTTP Error: %d", status)
	}

	var res struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := decodeJSON(body, &res); err != nil {
		text := strings.ToLower(string(body))
		if strings.Contains(text, "success") || strings.Contains(text, "200") {
			return true, "OTP verified successfully"
		}
		return false, strings.TrimSpace(string(body))
	}
	if res.Code == 200 {
		return true, "OTP verified successfully"
	}
	if res.Msg == "" {
		res.Msg = "Unknown error"
	}
	return false, res.Msg
}

// ListSettlements fetches one page of closing entries for an API user.
func (c *HTTPClient) ListSettlements(ctx context.Context, token string, apiUserID int64, page, pageSize int) (SettlementPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))
	query.Set("userid", strconv.FormatInt(apiUserID, 10))

	out := SettlementPage{Page: page, Size: pageSize}
	status, body, err := c.do(ctx, "settlements", http.MethodGet, "/m-settle-accounts/closingEntries", query, token, nil)
	if err != nil {
		return out, err
	}
	if status == http.StatusUnauthorized {
		return out, apperrors.ErrAuthExpired
	}
	if status != http.StatusOK {
		return out, fmt.Errorf("settlements: status %d: %w", status, apperrors.ErrUnexpectedStatus)
	}

	var res struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data *struct {
			Records []Settlement `json:"records"`
			Total   *int         `json:"total"`
			Pages   *int         `json:"pages"`
		} `json:"data"`
	}
	if err := decodeJSON(body, &res); err != nil {
		return out, err
	}
	if res.Code != 200 {
		return out, fmt.Errorf("settlements: %s: %w", res.Msg, apperrors.ErrUnexpectedStatus)
	}
	if res.Data == nil {
		return out, nil
	}

	out.Records = res.Data.Records
	out.Total = len(out.Records)
	if res.Data.Total != nil {
		out.Total = *res.Data.Total
	}
	out.Pages = 1
	if res.Data.Pages != nil {
		out.Pages = *res.Data.Pages
	}
	return out, nil
}

// decodeJSON tolerates a UTF-8 byte order mark and surrounding whitespace,
// which some gateway deployments prepend.
func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err == nil {
		return nil
	}
	cleaned := bytes.TrimSpace(body)
	cleaned = bytes.TrimPrefix(cleaned, []byte("\ufeff"))
	if err := json.Unmarshal(cleaned, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
	}
	return nil
}

// rawString renders a JSON scalar as a plain string.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Ensure HTTPClient implements Client interface
var _ Client = (*HTTPClient)(nil)
