package notify

import "time"

// App holds the DingTalk credentials for one organization. Exactly one
// row exists per organization name.
type App struct {
	ID           int64     `json:"app_id"`
	Organization string    `json:"organization"`
	AppName      string    `json:"app_name"`
	AgentID      string    `json:"agent_id"`
	CorpID       string    `json:"corp_id"`
	AppKey       string    `json:"app_key"`
	AppSecret    string    `json:"app_secret"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppInput carries the writable fields of an App.
type AppInput struct {
	Organization string `json:"organization"`
	AppName      string `json:"app_name"`
	AgentID      string `json:"agent_id"`
	CorpID       string `json:"corp_id"`
	AppKey       string `json:"app_key"`
	AppSecret    string `json:"app_secret"`
	IsActive     *bool  `json:"is_active"`
}
