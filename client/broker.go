package client

import (
	"context"
	"fmt"
)

// BrokerClient runs SQL queries
type BrokerClient struct {
	*baseClient
}

// NewBrokerClient creates a client for the broker at baseURL
func NewBrokerClient(baseURL string, opts ...Option) (*BrokerClient, error) {
	base, err := newBaseClient(baseURL, "broker-client", opts)
	if err != nil {
		return nil, err
	}
	return &BrokerClient{baseClient: base}, nil
}

// ExecuteQuery runs sql with the multi-stage engine
func (c *BrokerClient) ExecuteQuery(ctx context.Context, sql string) (*QueryResponse, error) {
	return c.ExecuteMultiStageQuery(ctx, sql)
}

// ExecuteMultiStageQuery posts sql to /query
func (c *BrokerClient) ExecuteMultiStageQuery(ctx context.Context, sql string) (*QueryResponse, error) {
	return c.query(ctx, "query", sql)
}

// ExecuteSingleStageQuery posts sql to the v1 endpoint /query/sql
func (c *BrokerClient) ExecuteSingleStageQuery(ctx context.Context, sql string) (*QueryResponse, error) {
	return c.query(ctx, "query/sql", sql)
}

// query posts sql to path. Exceptions in the response are logged and left
// for the caller to inspect.
func (c *BrokerClient) query(ctx context.Context, path, sql string) (*QueryResponse, error) {
	body, err := marshalQuery(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	data, err := c.postJSON(ctx, path, nil, body)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	resp, err := decode[QueryResponse](data)
	if err != nil {
		return nil, err
	}
	for _, ex := range resp.Exceptions {
		c.logger.Error(ex.Message, "errorCode", ex.ErrorCode, "sql", sql)
	}
	return resp, nil
}

// Health checks the broker's /health endpoint
func (c *BrokerClient) Health(ctx context.Context) error {
	return c.health(ctx)
}
