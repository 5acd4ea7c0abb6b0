package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testClient(rt roundTripFunc) *Client {
	return &Client{
		httpClient:    &http.Client{Transport: rt},
		defaultBucket: "brandvault-media",
		tokenSource: &tokenSource{
			token:  "cached-token",
			expiry: time.Now().Add(time.Hour),
		},
	}
}

func TestBucketHandleFallsBackToDefault(t *testing.T) {
	t.Parallel()

	client := testClient(nil)
	if got := client.BucketHandle("").Name(); got != "brandvault-media" {
		t.Fatalf("expected the default bucket, got %q", got)
	}
	if got := client.BucketHandle("other").Name(); got != "other" {
		t.Fatalf("expected the named bucket, got %q", got)
	}
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	t.Parallel()

	fetches := 0
	ts := &tokenSource{
		fetch: func(ctx context.Context) (string, time.Time, error) {
			fetches++
			return "fresh-token", time.Now().Add(time.Hour), nil
		},
	}

	for i := 0; i < 3; i++ {
		token, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Token returned error: %v", err)
		}
		if token != "fresh-token" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected one fetch for an unexpired token, got %d", fetches)
	}
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	t.Parallel()

	fetches := 0
	ts := &tokenSource{
		token:  "stale-token",
		expiry: time.Now().Add(30 * time.Second),
		fetch: func(ctx context.Context) (string, time.Time, error) {
			fetches++
			return "fresh-token", time.Now().Add(time.Hour), nil
		},
	}

	token, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if token != "fresh-token" || fetches != 1 {
		t.Fatalf("expected a refresh inside the expiry window, got %q after %d fetches", token, fetches)
	}
}

func TestStatObjectDecodesAttributes(t *testing.T) {
	t.Parallel()

	var seen *http.Request
	client := testClient(func(req *http.Request) (*http.Response, error) {
		seen = req
		return jsonResponse(http.StatusOK, `{
			"name": "tenants/acme/logo.png",
			"contentType": "image/png",
			"size": "204800",
			"md5Hash": "q1w2e3",
			"updated": "2026-08-01T10:00:00Z"
		}`), nil
	})

	attrs, err := client.BucketHandle("").StatObject(context.Background(), "tenants/acme/logo.png")
	if err != nil {
		t.Fatalf("StatObject returned error: %v", err)
	}
	if attrs.SizeBytes != 204800 {
		t.Fatalf("expected the string size decoded, got %d", attrs.SizeBytes)
	}
	if attrs.ContentType != "image/png" || attrs.Name != "tenants/acme/logo.png" {
		t.Fatalf("unexpected attrs %+v", attrs)
	}
	if got := seen.Header.Get("Authorization"); got != "Bearer cached-token" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if !strings.Contains(seen.URL.Path, "b/brandvault-media/o/") {
		t.Fatalf("unexpected request path %s", seen.URL.Path)
	}
}

func TestStatObjectMapsMissingObject(t *testing.T) {
	t.Parallel()

	client := testClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"error": {"code": 404}}`), nil
	})

	_, err := client.BucketHandle("").StatObject(context.Background(), "gone.png")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestStatObjectSurfacesTransportStatus(t *testing.T) {
	t.Parallel()

	client := testClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{}`), nil
	})

	_, err := client.BucketHandle("").StatObject(context.Background(), "flaky.png")
	if err == nil || errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

func TestUploadSendsMediaRequest(t *testing.T) {
	t.Parallel()

	var seen *http.Request
	var body []byte
	client := testClient(func(req *http.Request) (*http.Response, error) {
		seen = req
		body, _ = io.ReadAll(req.Body)
		return jsonResponse(http.StatusOK, `{"name": "thumbs/asset.jpg"}`), nil
	})

	err := client.BucketHandle("").Upload(context.Background(), "thumbs/asset.jpg", "image/jpeg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if string(body) != "jpeg-bytes" {
		t.Fatalf("unexpected upload body %q", body)
	}
	if got := seen.URL.Query().Get("name"); got != "thumbs/asset.jpg" {
		t.Fatalf("unexpected object name %q", got)
	}
	if got := seen.Header.Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestUploadIncludesErrorBody(t *testing.T) {
	t.Parallel()

	client := testClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"error": {"message": "insufficient scope"}}`), nil
	})

	err := client.BucketHandle("").Upload(context.Background(), "thumbs/asset.jpg", "image/jpeg", nil)
	if err == nil || !strings.Contains(err.Error(), "insufficient scope") {
		t.Fatalf("expected the response body surfaced, got %v", err)
	}
}
