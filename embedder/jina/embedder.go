package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/w-h-a/ragchat/embedder"
)

const (
	defaultLocation = "https://api.jina.ai"
	defaultModel    = "jina-embeddings-v3"
)

type jinaEmbedder struct {
	options embedder.Options
	client  *http.Client
}

func (e *jinaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(strings.TrimSpace(text)) == 0 {
		return nil, embedder.ErrEmptyInput
	}

	req := map[string]any{
		"model": e.options.Model,
		"input": []string{text},
	}

	var rsp jinaResponse

	if err := e.do(ctx, "/v1/embeddings", req, &rsp); err != nil {
		return nil, err
	}

	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, errors.New("no response from Jina")
	}

	return rsp.Data[0].Embedding, nil
}

func (e *jinaEmbedder) do(ctx context.Context, path string, req any, rsp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.options.Location+path, bytes.NewReader(data))
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+e.options.ApiKey)

	response, err := e.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("jina http %d: %s", response.StatusCode, string(payload))
	}

	return json.Unmarshal(payload, rsp)
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewEmbedder(opts ...embedder.Option) embedder.Embedder {
	options := embedder.NewOptions(opts...)

	if len(options.Location) == 0 {
		options.Location = defaultLocation
	}

	if len(options.Model) == 0 {
		options.Model = defaultModel
	}

	return &jinaEmbedder{
		options: options,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}
