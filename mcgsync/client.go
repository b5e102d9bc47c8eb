package mcgsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/models"
)

type mcgClient struct {
	baseURL   string
	itemsPath string
	apiKey    string
	apiKeyHdr string
	flavor    string
	http      *http.Client
	limiter   <-chan time.Time
}

func newMcgClient(conn *models.McgConnection) (*mcgClient, error) {
	baseURL := strings.TrimSpace(conn.BaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("MCG_API_BASE_URL"))
	}
	if baseURL == "" {
		return nil, errors.New("mcg base url is empty")
	}
	apiKey := resolveAPIKey(conn.AuthSecretRef)
	if apiKey == "" {
		return nil, errors.New("mcg api key is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("MCG_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	itemsPath := strings.TrimSpace(os.Getenv("MCG_ITEMS_PATH"))
	if itemsPath == "" {
		itemsPath = "/api/item/getItemsList"
	}
	flavor := conn.Flavor
	if flavor == "" {
		flavor = models.McgFlavorLegacy
	}
	rateLimitPerMin := int64(10)
	if v := strings.TrimSpace(os.Getenv("MCG_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &mcgClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		itemsPath: itemsPath,
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		flavor:    flavor,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

// resolveAPIKey dereferences the stored secret. An "env:NAME" ref keeps the
// key out of the database; anything else is taken as the literal key.
func resolveAPIKey(ref string) string {
	ref = strings.TrimSpace(ref)
	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ref
}

type itemsListRequest struct {
	PageNumber int    `json:"PageNumber"`
	PageSize   int    `json:"PageSize"`
	Filter     string `json:"Filter,omitempty"`
}

type itemsListResponse struct {
	Items      []json.RawMessage `json:"Items"`
	TotalCount int               `json:"TotalCount"`
}

func (c *mcgClient) getItemsList(ctx context.Context, req itemsListRequest) (itemsListResponse, error) {
	<-c.limiter
	payload, err := json.Marshal(req)
	if err != nil {
		return itemsListResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.itemsPath, bytes.NewReader(payload))
	if err != nil {
		return itemsListResponse{}, err
	}
	httpReq.Header.Set(c.apiKeyHdr, c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return itemsListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return itemsListResponse{}, fmt.Errorf("mcg api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed itemsListResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		return parsed, nil
	}
	// some uplicali deployments skip the envelope and return the catalogue
	// as a bare array
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return itemsListResponse{}, fmt.Errorf("mcg api payload is neither an items object nor an array: %w", err)
	}
	return itemsListResponse{Items: items, TotalCount: len(items)}, nil
}
