package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestLocalStorageServiceRoundTrip(t *testing.T) {
	storage, err := NewLocalStorageService(t.TempDir(), "uploads/")
	if err != nil {
		t.Fatalf("NewLocalStorageService: %v", err)
	}

	url, err := storage.UploadFile(context.Background(), strings.NewReader("hello"), "a1b2.pdf", "chat")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if url != "/uploads/chat/a1b2.pdf" {
		t.Fatalf("unexpected url %q", url)
	}

	path := filepath.Join(storage.Root(), "chat", "a1b2.pdf")
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected stored file: %q %v", data, err)
	}

	if err := storage.DeleteFile(context.Background(), url); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, got %v", err)
	}
	if err := storage.DeleteFile(context.Background(), url); err != nil {
		t.Fatalf("deleting a missing file should succeed: %v", err)
	}
}

func TestLocalStorageServiceRejectsTraversal(t *testing.T) {
	storage, err := NewLocalStorageService(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("NewLocalStorageService: %v", err)
	}

	if _, err := storage.UploadFile(context.Background(), strings.NewReader("x"), "..", "chat"); err == nil {
		t.Fatal("expected invalid name error")
	}
	if err := storage.DeleteFile(context.Background(), "/elsewhere/chat/a.pdf"); err == nil {
		t.Fatal("expected foreign url to be rejected")
	}
}

func TestSupabaseStorageReturnsRelativeURL(t *testing.T) {
	var mu sync.Mutex
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer service-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage := NewSupabaseStorageService(server.URL+"/", "chat-media", "service-key")

	fileURL, err := storage.UploadFile(context.Background(), strings.NewReader("%PDF-1.4"), "report.pdf", "chat")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if fileURL != "/storage/v1/object/public/chat-media/chat/report.pdf" {
		t.Fatalf("expected relative public path, got %q", fileURL)
	}

	if err := storage.DeleteFile(context.Background(), fileURL); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := storage.DeleteFile(context.Background(), server.URL+fileURL); err != nil {
		t.Fatalf("DeleteFile absolute: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"POST /storage/v1/object/chat-media/chat/report.pdf",
		"DELETE /storage/v1/object/chat-media/chat/report.pdf",
		"DELETE /storage/v1/object/chat-media/chat/report.pdf",
	}
	if strings.Join(requests, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected requests:\n%s", strings.Join(requests, "\n"))
	}
}
