package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// appSource resolves credentials per organization. Satisfied by *Service.
type appSource interface {
	AppByOrganization(ctx context.Context, organization string) (App, error)
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// DingTalk tokens live 7200s; refresh five minutes early so an in-flight
// send never carries a token about to lapse.
const tokenEarlyExpiry = 300 * time.Second

// Dispatcher delivers work notifications through the DingTalk open API,
// caching one access token per organization.
type Dispatcher struct {
	apps    appSource
	client  *http.Client
	baseURL string

	mu     sync.Mutex
	tokens map[string]cachedToken
}

func NewDispatcher(apps *Service) *Dispatcher {
	return &Dispatcher{
		apps:    apps,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: "https://oapi.dingtalk.com",
		tokens:  make(map[string]cachedToken),
	}
}

func (d *Dispatcher) NotifySubmit(ctx context.Context, organization, supervisorDingtalkID, employeeName, periodLabel string, goalCount int) error {
	return d.sendWork(ctx, organization, []string{supervisorDingtalkID},
		"Pending review",
		fmt.Sprintf("%s submitted %d goal(s) for %s. Please review them.", employeeName, goalCount, periodLabel))
}

func (d *Dispatcher) NotifyApprove(ctx context.Context, organization, employeeDingtalkID, periodLabel string, goalCount int) error {
	return d.sendWork(ctx, organization, []string{employeeDingtalkID},
		"Goals approved",
		fmt.Sprintf("Your %d goal(s) for %s have been approved.", goalCount, periodLabel))
}

func (d *Dispatcher) NotifyReject(ctx context.Context, organization, employeeDingtalkID, periodLabel string, goalCount int, reason string) error {
	return d.sendWork(ctx, organization, []string{employeeDingtalkID},
		"Goals rejected",
		fmt.Sprintf("Your %d goal(s) for %s were rejected.\nReason: %s\nPlease revise and resubmit.", goalCount, periodLabel, reason))
}

// sendWork posts a text work notification to the given DingTalk user ids.
// Blank ids are skipped; no recipients is not an error.
func (d *Dispatcher) sendWork(ctx context.Context, organization string, userIDs []string, title, text string) error {
	var recipients []string
	for _, id := range userIDs {
		if strings.TrimSpace(id) != "" {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		slog.Warn("dingtalk notification skipped, no recipient ids", "organization", organization, "title", title)
		return nil
	}

	app, err := d.apps.AppByOrganization(ctx, organization)
	if err != nil {
		return err
	}
	if !app.IsActive {
		slog.Warn("dingtalk app disabled, notification skipped", "organization", organization, "title", title)
		return nil
	}

	token, err := d.accessToken(ctx, app)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"agent_id":    app.AgentID,
		"userid_list": strings.Join(recipients, ","),
		"msg": map[string]any{
			"msgtype": "text",
			"text": map[string]string{
				"content": fmt.Sprintf("[PBC] %s\n\n%s", title, text),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := d.baseURL + "/topapi/message/corpconversation/asyncsend_v2?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		TaskID  int64  `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if out.ErrCode != 0 {
		return fmt.Errorf("dingtalk asyncsend failed: %d %s", out.ErrCode, out.ErrMsg)
	}
	slog.Info("dingtalk notification sent", "organization", organization, "task_id", out.TaskID, "recipients", len(recipients))
	return nil
}

// LookupUserID resolves a DingTalk user id by display name, scanning the
// organization's root department. Returns "" when nobody matches.
func (d *Dispatcher) LookupUserID(ctx context.Context, organization, displayName string) (string, error) {
	app, err := d.apps.AppByOrganization(ctx, organization)
	if err != nil {
		return "", err
	}
	if !app.IsActive {
		return "", nil
	}
	token, err := d.accessToken(ctx, app)
	if err != nil {
		return "", err
	}

	cursor := int64(0)
	for page := 0; page < 50; page++ {
		body, err := json.Marshal(map[string]any{"dept_id": 1, "cursor": cursor, "size": 100})
		if err != nil {
			return "", err
		}
		endpoint := d.baseURL + "/topapi/v2/user/list?access_token=" + url.QueryEscape(token)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return "", err
		}
		var out struct {
			ErrCode int    `json:"errcode"`
			ErrMsg  string `json:"errmsg"`
			Result  struct {
				HasMore    bool  `json:"has_more"`
				NextCursor int64 `json:"next_cursor"`
				List       []struct {
					UserID string `json:"userid"`
					Name   string `json:"name"`
				} `json:"list"`
			} `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return "", err
		}
		if out.ErrCode != 0 {
			return "", fmt.Errorf("dingtalk user list failed: %d %s", out.ErrCode, out.ErrMsg)
		}
		for _, u := range out.Result.List {
			if u.Name == displayName {
				return u.UserID, nil
			}
		}
		if !out.Result.HasMore {
			break
		}
		cursor = out.Result.NextCursor
	}
	return "", nil
}

// accessToken returns a cached token for the app's organization, fetching
// a fresh one when missing or past its early-expiry deadline.
func (d *Dispatcher) accessToken(ctx context.Context, app App) (string, error) {
	d.mu.Lock()
	cached, ok := d.tokens[app.Organization]
	d.mu.Unlock()
	if ok && time.Now().Before(cached.expiry) {
		return cached.value, nil
	}

	q := url.Values{}
	q.Set("appkey", app.AppKey)
	q.Set("appsecret", app.AppSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/gettoken?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ErrCode != 0 {
		return "", fmt.Errorf("dingtalk gettoken failed: %d %s", out.ErrCode, out.ErrMsg)
	}

	tok := cachedToken{
		value:  out.AccessToken,
		expiry: time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - tokenEarlyExpiry),
	}
	d.mu.Lock()
	d.tokens[app.Organization] = tok
	d.mu.Unlock()
	return tok.value, nil
}
