package crmclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crm-import-service/pkg/errors"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vendor.csv")
	if err := os.WriteFile(path, []byte("Type,Date,Num\nBill,01/02/2024,7\n"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestImport(t *testing.T) {
	var gotPath, gotAuth, gotFile, gotName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		gotFile = string(content)
		gotName = header.Filename

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"message":"Vendor transactions imported","bills_created":3,"payments_created":1,"skipped":2,"errors":["row 4: unknown vendor"]}`)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/", Token: "secret"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := client.Import(context.Background(), KindVendorTransactions, writeFixture(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/accounting/import/vendor-transactions" {
		t.Errorf("expected vendor-transactions endpoint, got %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotName != "vendor.csv" || !strings.HasPrefix(gotFile, "Type,Date,Num") {
		t.Errorf("unexpected upload %s: %q", gotName, gotFile)
	}

	if result.Message != "Vendor transactions imported" {
		t.Errorf("unexpected message: %s", result.Message)
	}
	if result.Counts["bills_created"] != 3 || result.Counts["skipped"] != 2 {
		t.Errorf("unexpected counts: %v", result.Counts)
	}
	if keys := strings.Join(result.CountKeys(), ","); keys != "bills_created,payments_created,skipped" {
		t.Errorf("expected sorted count keys, got %s", keys)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "row 4: unknown vendor" {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestImportRejected(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
		errors  []string
	}{
		{
			name:    "validation errors",
			status:  http.StatusUnprocessableEntity,
			body:    `{"message":"The given data was invalid.","errors":{"file":["The file must be a CSV."]}}`,
			message: "The given data was invalid.",
			errors:  []string{"file: The file must be a CSV."},
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"message":"Import failed","error":"SQLSTATE[23000]"}`,
			message: "Import failed",
		},
		{
			name:    "non json body",
			status:  http.StatusBadGateway,
			body:    "bad gateway",
			message: "bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client, _ := New(Config{BaseURL: server.URL}, nil)
			result, err := client.Import(context.Background(), KindVendorTransactions, writeFixture(t))
			if !errors.HasCode(err, errors.CodeRemoteImportFailed) {
				t.Fatalf("expected remote_import_failed, got %v", err)
			}
			importErr, _ := errors.AsImportError(err)
			if importErr.Context["status"] != tt.status {
				t.Errorf("expected status %d in context, got %v", tt.status, importErr.Context["status"])
			}
			if result.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, result.Message)
			}
			if strings.Join(result.Errors, "|") != strings.Join(tt.errors, "|") {
				t.Errorf("expected errors %v, got %v", tt.errors, result.Errors)
			}
		})
	}
}

func TestImportUnreadableSource(t *testing.T) {
	client, _ := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := client.Import(context.Background(), KindVendorTransactions, filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.HasCode(err, errors.CodeSourceUnavailable) {
		t.Errorf("expected source_unavailable, got %v", err)
	}
}

func TestImportUnreachable(t *testing.T) {
	client, _ := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := client.Import(context.Background(), KindVendorTransactions, writeFixture(t))
	if !errors.HasCode(err, errors.CodeConnectionFailed) {
		t.Errorf("expected connection_failed, got %v", err)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "  "}, nil); !errors.HasCode(err, errors.CodeMissingConfig) {
		t.Errorf("expected missing_config, got %v", err)
	}
}
