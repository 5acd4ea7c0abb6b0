package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ObjectAttrs is the subset of GCS object metadata the pipeline reads.
type ObjectAttrs struct {
	Name        string
	ContentType string
	SizeBytes   int64
	MD5Hash     string
	Updated     string
}

// StatObject fetches object metadata. ErrObjectNotFound maps a 404 so
// callers can distinguish a missing source file from a transport failure.
func (b *Bucket) StatObject(ctx context.Context, objectKey string) (*ObjectAttrs, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("bucket not initialized")
	}
	token, err := b.client.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"https://storage.googleapis.com/storage/v1/b/%s/o/%s",
		url.PathEscape(b.name),
		url.PathEscape(objectKey),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gcs object stat failed: %s", resp.Status)
	}

	var raw struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        string `json:"size"`
		MD5Hash     string `json:"md5Hash"`
		Updated     string `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	size, _ := strconv.ParseInt(raw.Size, 10, 64)
	return &ObjectAttrs{
		Name:        raw.Name,
		ContentType: raw.ContentType,
		SizeBytes:   size,
		MD5Hash:     raw.MD5Hash,
		Updated:     raw.Updated,
	}, nil
}

// Upload writes an object via the simple media upload endpoint.
func (b *Bucket) Upload(ctx context.Context, objectKey, contentType string, data []byte) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("bucket not initialized")
	}
	token, err := b.client.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"https://storage.googleapis.com/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		url.PathEscape(b.name),
		url.QueryEscape(objectKey),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.client.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if len(body) > 0 {
			return fmt.Errorf("gcs upload failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("gcs upload failed: %s", resp.Status)
	}
	return nil
}
