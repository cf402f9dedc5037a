package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// ControllerClient administers schemas, tables, tasks and batch ingestion
type ControllerClient struct {
	*baseClient
}

// NewControllerClient creates a client for the controller at baseURL
func NewControllerClient(baseURL string, opts ...Option) (*ControllerClient, error) {
	base, err := newBaseClient(baseURL, "controller-client", opts)
	if err != nil {
		return nil, err
	}
	return &ControllerClient{baseClient: base}, nil
}

// CreateSchema posts a schema definition
func (c *ControllerClient) CreateSchema(ctx context.Context, schema []byte) (*PostResponse, error) {
	data, err := c.postJSON(ctx, "schemas", nil, schema)
	if err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return decode[PostResponse](data)
}

// CreateTable posts a table config
func (c *ControllerClient) CreateTable(ctx context.Context, table []byte) (*PostResponse, error) {
	data, err := c.postJSON(ctx, "tables", nil, table)
	if err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return decode[PostResponse](data)
}

// ScheduleTask schedules a minion task for a table and returns the id the
// controller reports under the task type.
func (c *ControllerClient) ScheduleTask(ctx context.Context, taskType, tableName string) (string, error) {
	query := url.Values{}
	query.Set("taskType", taskType)
	query.Set("tableName", tableName)

	data, err := c.postJSON(ctx, "tasks/schedule", query, nil)
	if err != nil {
		return "", fmt.Errorf("schedule task: %w", err)
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	raw, ok := result[taskType]
	if !ok {
		return "", fmt.Errorf("schedule task: no %s entry in response %s", taskType, string(data))
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	if string(raw) == "null" {
		return "", nil
	}
	return string(raw), nil
}

// IngestFromFile uploads a file and ingests it into tableNameWithType, e.g.
// "transcript_OFFLINE".
func (c *ControllerClient) IngestFromFile(ctx context.Context, tableNameWithType string, cfg BatchIngestConfig, fileName string, file io.Reader) (*PostResponse, error) {
	batchConfig, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch config: %w", err)
	}
	c.logger.Debug("batch config", "config", string(batchConfig))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	query := url.Values{}
	query.Set("tableNameWithType", tableNameWithType)
	query.Set("batchConfigMapStr", string(batchConfig))

	data, err := c.do(ctx, http.MethodPost, "ingestFromFile", query, writer.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("ingest from file: %w", err)
	}
	return decode[PostResponse](data)
}

// Health checks the controller's /health endpoint
func (c *ControllerClient) Health(ctx context.Context) error {
	return c.health(ctx)
}
