// Package crmclient uploads QuickBooks exports to the CRM's HTTP import
// endpoints for the report kinds this service does not import itself.
package crmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// KindVendorTransactions is the endpoint for the vendor transactions report.
const KindVendorTransactions = "vendor-transactions"

const defaultTimeout = 5 * time.Minute

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Result is the decoded response of an import endpoint.
type Result struct {
	Message string
	Error   string
	Errors  []string
	// Counts holds every numeric field of the payload, e.g. bills_created.
	Counts map[string]int
}

// CountKeys returns the keys of Counts in sorted order.
func (r *Result) CountKeys() []string {
	keys := make([]string, 0, len(r.Counts))
	for key := range r.Counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Client talks to the CRM import API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  logger.Logger
}

// New creates a client. BaseURL is required.
func New(cfg Config, log logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "crm.base_url", "", nil)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  log.WithComponent("crmclient"),
	}, nil
}

// Import uploads the file at path as the multipart field "file" to
// {base_url}/api/accounting/import/{kind}. A status of 400 or more fails with
// remote_import_failed carrying the payload's message and errors.
func (c *Client) Import(ctx context.Context, kind, path string) (*Result, error) {
	endpoint := fmt.Sprintf("%s/api/accounting/import/%s", c.baseURL, kind)

	body, contentType, err := multipartBody(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, errors.InternalError("build import request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := c.logger.WithFields(logger.Fields{"endpoint": endpoint, "file": filepath.Base(path)})
	log.Info("Uploading export to CRM")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NetworkError(endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError(endpoint, err)
	}
	result := decodeResult(raw)

	if resp.StatusCode >= 400 {
		message := result.Message
		if message == "" {
			message = "Import failed."
		}
		importErr := errors.RemoteImportFailed(endpoint, resp.StatusCode, message)
		if result.Error != "" {
			importErr = importErr.WithContext("error", result.Error)
		}
		if len(result.Errors) > 0 {
			importErr = importErr.WithContext("errors", result.Errors)
		}
		log.WithField("status", resp.StatusCode).Error("CRM rejected the import")
		return result, importErr
	}

	log.WithField("status", resp.StatusCode).Info("CRM import accepted")
	return result, nil
}

func multipartBody(path string) (*bytes.Buffer, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", errors.SourceUnavailable(path, err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", errors.InternalError("build multipart body", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", errors.SourceUnavailable(path, err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", errors.InternalError("build multipart body", err)
	}
	return body, writer.FormDataContentType(), nil
}

// decodeResult reads what it can from a JSON payload. A body that is not a
// JSON object yields an empty result with the body text as message.
func decodeResult(raw []byte) *Result {
	result := &Result{Counts: make(map[string]int)}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		result.Message = strings.TrimSpace(string(raw))
		return result
	}

	for key, value := range payload {
		switch key {
		case "message":
			json.Unmarshal(value, &result.Message)
		case "error":
			json.Unmarshal(value, &result.Error)
		case "errors":
			result.Errors = decodeErrors(value)
		default:
			var n json.Number
			if err := json.Unmarshal(value, &n); err == nil {
				if i, err := n.Int64(); err == nil {
					result.Counts[key] = int(i)
				}
			}
		}
	}
	return result
}

// decodeErrors accepts either a list of strings or a field-to-messages
// object as produced by request validation.
func decodeErrors(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var fields map[string][]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, message := range fields[key] {
			list = append(list, key+": "+message)
		}
	}
	return list
}
