package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/util"
)

// ESClient indexes security events for operator search.
type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(),
		},
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{
		Client: client,
		config: &esConfig,
	}

	if err := esClient.HealthCheck(); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	util.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
		zap.String("index", esConfig.Index),
	)

	return esClient, nil
}

func (e *ESClient) Close() {
	util.Info("Elasticsearch client shutdown")
}

func (e *ESClient) HealthCheck() error {
	res, err := e.Client.Info()
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}

	util.Debug("Elasticsearch health check passed")
	return nil
}

func (e *ESClient) IndexDocument(ctx context.Context, index, id string, document interface{}) (*esapi.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(document); err != nil {
		return nil, fmt.Errorf("error encoding document: %w", err)
	}

	res, err := e.Client.Index(
		index,
		&buf,
		e.Client.Index.WithContext(ctx),
		e.Client.Index.WithDocumentID(id),
	)
	if err != nil {
		return nil, fmt.Errorf("error indexing document: %w", err)
	}

	return res, nil
}
