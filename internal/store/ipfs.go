package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// IPFS talks to a node's HTTP RPC API (the /api/v0 endpoints).
type IPFS struct {
	base   string
	client *http.Client
}

func NewIPFS(apiURL string, client *http.Client) *IPFS {
	if client == nil {
		client = http.DefaultClient
	}
	return &IPFS{base: strings.TrimRight(apiURL, "/"), client: client}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type apiError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
}

func (s *IPFS) Add(ctx context.Context, name string, data []byte) (Object, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Object{}, err
	}
	if _, err := part.Write(data); err != nil {
		return Object{}, err
	}
	if err := mw.Close(); err != nil {
		return Object{}, err
	}

	resp, err := s.post(ctx, "add", url.Values{"pin": {"true"}}, &body, mw.FormDataContentType())
	if err != nil {
		return Object{}, err
	}
	defer resp.Body.Close()

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Object{}, fmt.Errorf("store: decode add response: %w", err)
	}
	size, _ := strconv.ParseInt(out.Size, 10, 64)
	return Object{Name: out.Name, Hash: out.Hash, Size: size}, nil
}

func (s *IPFS) Cat(ctx context.Context, hash string) ([]byte, error) {
	if hash == "" {
		return nil, ErrBadHash
	}
	resp, err := s.post(ctx, "cat", url.Values{"arg": {hash}}, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", hash, err)
	}
	return data, nil
}

func (s *IPFS) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *IPFS) post(ctx context.Context, cmd string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := s.base + "/api/v0/" + cmd + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", cmd, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	var apiErr apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	msg := strings.ToLower(apiErr.Message)
	if resp.StatusCode == http.StatusNotFound || strings.Contains(msg, "not found") || strings.Contains(msg, "no link named") {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	}
	return nil, fmt.Errorf("store: %s: %s: %s", cmd, resp.Status, apiErr.Message)
}
