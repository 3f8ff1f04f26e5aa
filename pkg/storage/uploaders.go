package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Uploader stores an artifact durably and returns its content address.
type Uploader interface {
	Name() string
	Put(ctx context.Context, data []byte) (string, error)
}

// KuboUploader adds artifacts through a local IPFS node's HTTP API.
type KuboUploader struct {
	apiURL string
	http   *http.Client
}

// NewKuboUploader creates an uploader for the node at apiURL (e.g. http://localhost:5001).
func NewKuboUploader(apiURL string) *KuboUploader {
	return &KuboUploader{
		apiURL: strings.TrimRight(apiURL, "/"),
		http:   &http.Client{},
	}
}

func (u *KuboUploader) Name() string { return "ipfs-node" }

func (u *KuboUploader) Put(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "artifact.json")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.apiURL+"/api/v0/add?cid-version=1&pin=true", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		Hash string `json:"Hash"`
	}
	if err := doJSON(u.http, req, &out); err != nil {
		return "", err
	}
	if out.Hash == "" {
		return "", fmt.Errorf("ipfs node returned no hash")
	}
	return out.Hash, nil
}

// PinataUploader pins JSON artifacts through the Pinata pinning service.
type PinataUploader struct {
	baseURL string
	jwt     string
	http    *http.Client
}

// NewPinataUploader creates an uploader; baseURL defaults to the public API.
func NewPinataUploader(baseURL, jwt string) *PinataUploader {
	if baseURL == "" {
		baseURL = "https://api.pinata.cloud"
	}
	return &PinataUploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		jwt:     jwt,
		http:    &http.Client{},
	}
}

func (u *PinataUploader) Name() string { return "pinata" }

func (u *PinataUploader) Put(ctx context.Context, data []byte) (string, error) {
	reqBody, err := json.Marshal(map[string]any{
		"pinataContent": json.RawMessage(data),
		"pinataMetadata": map[string]string{
			"name": fmt.Sprintf("validation-%d.json", time.Now().UnixMilli()),
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/pinning/pinJSONToIPFS", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.jwt)

	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := doJSON(u.http, req, &out); err != nil {
		return "", err
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata returned no hash")
	}
	return out.IpfsHash, nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
