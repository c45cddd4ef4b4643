package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// HTTPGet returns the http.get tool bound to client. A nil client uses
// http.DefaultClient.
func HTTPGet(client *http.Client) Def {
	return httpGetTool(client)
}

func httpGetTool(client *http.Client) Def {
	if client == nil {
		client = http.DefaultClient
	}
	return Def{
		Name:         "http.get",
		Mode:         "read",
		CapabilityID: "http.get",
		Execute: func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error) {
			rawURL, err := stringArg(args, "http.get", "url")
			if err != nil {
				return nil, err
			}

			if strings.HasPrefix(rawURL, "data:") {
				return handleDataURL(rawURL)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, fmt.Errorf("http.get: %w", err)
			}

			if hdrsVal, found := args.Get("headers"); found {
				if hdrs, ok := hdrsVal.(evaluator.Record); ok {
					for _, kv := range hdrs.Pairs {
						if s, ok := kv.Value.(evaluator.String); ok {
							req.Header.Set(kv.Key, s.Value)
						}
					}
				}
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("http.get: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("http.get: %w", err)
			}

			keys := make([]string, 0, len(resp.Header))
			for k := range resp.Header {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			respHeaders := make([]evaluator.KeyValue, 0, len(keys))
			for _, k := range keys {
				respHeaders = append(respHeaders, evaluator.KeyValue{
					Key:   strings.ToLower(k),
					Value: evaluator.NewString(strings.Join(resp.Header[k], ", ")),
				})
			}

			return evaluator.NewRecord([]evaluator.KeyValue{
				{Key: "status", Value: evaluator.NewNumber(float64(resp.StatusCode))},
				{Key: "headers", Value: evaluator.NewRecord(respHeaders)},
				{Key: "body", Value: evaluator.NewString(string(body))},
			}), nil
		},
	}
}

// handleDataURL serves data:[<mediatype>],<payload> without network access.
func handleDataURL(dataURL string) (evaluator.Value, error) {
	rest := strings.TrimPrefix(dataURL, "data:")

	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("http.get: invalid data URL")
	}

	body := rest[commaIdx+1:]
	decoded, err := url.PathUnescape(body)
	if err != nil {
		decoded = body
	}

	return evaluator.NewRecord([]evaluator.KeyValue{
		{Key: "status", Value: evaluator.NewNumber(200)},
		{Key: "headers", Value: evaluator.NewRecord(nil)},
		{Key: "body", Value: evaluator.NewString(decoded)},
	}), nil
}
