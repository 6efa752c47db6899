package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/resilience"
)

func completionResponse(content string) string {
	encoded, _ := json.Marshal(content)
	return `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":` + string(encoded) + `},"finish_reason":"stop"}]}`
}

func TestClassifyTextParsesJSONCompletion(t *testing.T) {
	var request map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse(`{"customer_number":"AB1234CD56","category":"Billing","all_customer_numbers":["AB1234CD56"],"all_categories":["Billing"],"extracted_information":[{"name":"Invoice","data":{"amount":"12.50"}}]}`)))
	}))
	defer server.Close()

	classifier := NewClassifier(Config{APIKey: "test", BaseURL: server.URL + "/v1"}, []string{"Billing"}, nil, nil)
	result, err := classifier.ClassifyText(context.Background(), "Invoice", "Customer AB1234CD56")
	if err != nil {
		t.Fatalf("ClassifyText() error = %v", err)
	}
	if result.CustomerNumber == nil || *result.CustomerNumber != "AB1234CD56" {
		t.Fatalf("unexpected number: %v", result.CustomerNumber)
	}
	if len(result.ExtractedInformation) != 1 || result.ExtractedInformation[0].Fields[0].Value != "12.50" {
		t.Fatalf("unexpected extracted info: %+v", result.ExtractedInformation)
	}
	format, _ := request["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", request["response_format"])
	}
}

func TestClassifyImageSendsDataURL(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse(`{"category":"Unclassified","all_categories":["Unclassified"]}`)))
	}))
	defer server.Close()

	classifier := NewClassifier(Config{APIKey: "test", BaseURL: server.URL + "/v1", VisionModel: "gpt-4o"}, nil, nil, nil)
	// 1x1 PNG header bytes, base64.
	result, err := classifier.ClassifyImage(context.Background(), "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")
	if err != nil {
		t.Fatalf("ClassifyImage() error = %v", err)
	}
	if !strings.Contains(body, "data:image/png;base64,iVBOR") {
		t.Fatalf("expected png data url in request, got %s", body)
	}
	if !strings.Contains(body, `"model":"gpt-4o"`) {
		t.Fatalf("expected vision model in request, got %s", body)
	}
	if !result.IsSentinel() {
		t.Fatalf("expected sentinel-equivalent result, got %+v", result)
	}
}

func TestClassifyTextRetriesAfterRateLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse(`{}`)))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMaxServerDelay: 5 * time.Millisecond,
		BreakerEnabled:      false,
	})
	classifier := NewClassifier(Config{APIKey: "test", BaseURL: server.URL + "/v1"}, nil, nil, executor)
	if _, err := classifier.ClassifyText(context.Background(), "s", "b"); err != nil {
		t.Fatalf("expected success after throttled attempt, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClassifyTextDoesNotRetryBadRequest(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, BreakerEnabled: false})
	classifier := NewClassifier(Config{APIKey: "test", BaseURL: server.URL + "/v1"}, nil, nil, executor)
	_, err := classifier.ClassifyText(context.Background(), "s", "b")
	if err == nil {
		t.Fatalf("expected error")
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("bad request must not be temporary: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}
