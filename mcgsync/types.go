package mcgsync

import "encoding/json"

// SyncSettings is the per-connection pull configuration persisted on
// McgConnection.SettingsJSON.
type SyncSettings struct {
	Enabled          bool   `json:"enabled"`
	AutoPullEnabled  bool   `json:"autoPullEnabled"`
	PullEveryMinutes int    `json:"pullEveryMinutes"`
	PageSize         int    `json:"pageSize"`
	Filter           string `json:"filter"`
}

func DefaultSettings() SyncSettings {
	return SyncSettings{
		Enabled:          true,
		AutoPullEnabled:  false,
		PullEveryMinutes: 60,
		PageSize:         200,
	}
}

func NormalizeSettings(settings SyncSettings) SyncSettings {
	// A pull window shorter than the scheduler tick would just burn the
	// remote rate limit.
	if settings.PullEveryMinutes < 5 {
		settings.PullEveryMinutes = 5
	}
	if settings.PageSize <= 0 || settings.PageSize > 500 {
		settings.PageSize = 200
	}
	return settings
}

func DecodeSettings(raw []byte) SyncSettings {
	if len(raw) == 0 {
		return DefaultSettings()
	}
	var settings SyncSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return DefaultSettings()
	}
	return NormalizeSettings(settings)
}

func EncodeSettings(settings SyncSettings) []byte {
	b, _ := json.Marshal(NormalizeSettings(settings))
	return b
}

type ConnectRequest struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
	Flavor  string `json:"flavor"`
}

type UpdateSettingsRequest struct {
	Settings SyncSettings `json:"settings"`
}

type StatusResponse struct {
	Connection        ConnectionResponse `json:"connection"`
	LastSyncAt        *string            `json:"lastSyncAt"`
	LastSuccessSyncAt *string            `json:"lastSuccessSyncAt"`
	Settings          SyncSettings       `json:"settings"`
}

type ConnectionResponse struct {
	Status  string `json:"status"`
	Flavor  string `json:"flavor"`
	BaseURL string `json:"baseUrl"`
}

type TriggerSyncResponse struct {
	RunId  uint   `json:"runId"`
	Status string `json:"status"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID             uint    `json:"id"`
	Status         string  `json:"status"`
	TriggeredBy    string  `json:"triggeredBy"`
	StartedAt      *string `json:"startedAt"`
	FinishedAt     *string `json:"finishedAt"`
	DurationMs     int64   `json:"durationMs"`
	ItemsFetched   int     `json:"itemsFetched"`
	RecordsSynced  int     `json:"recordsSynced"`
	SkippedNoMatch int     `json:"skippedNoMatch"`
	ErrorCount     int     `json:"errorCount"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId        uint   `json:"run_id"`
	BusinessId   string `json:"business_id"`
	ConnectionId uint   `json:"connection_id"`
}
