package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kaustavdm/watchme/internal/results"
	"github.com/kaustavdm/watchme/internal/types"
)

const (
	funcGetContents = "get_url_contents"
	funcDownload    = "download_content"
	funcGetJSON     = "get_url_json"

	headerPrefix = "header_"
)

func urlsDefinition() Definition {
	return Definition{
		Type:     "urls",
		Required: []string{"url"},
		Validate: validateURLs,
		New:      newURLsFunc,
	}
}

func validateURLs(params map[string]string) error {
	u, err := url.Parse(params["url"])
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https, got %q", params["url"])
	}
	switch params["func"] {
	case "", funcGetContents, funcDownload, funcGetJSON:
	default:
		return fmt.Errorf("unknown func %q", params["func"])
	}
	if p := params["json_path"]; p != "" && params["func"] != funcGetJSON {
		return fmt.Errorf("json_path requires func %s", funcGetJSON)
	}
	return nil
}

func newURLsFunc(spec types.TaskSpec) (Func, error) {
	client := &http.Client{}
	switch spec.Param("func", funcGetContents) {
	case funcDownload:
		return func(ctx context.Context, params map[string]string) (any, error) {
			return downloadURL(ctx, client, params)
		}, nil
	case funcGetJSON:
		return func(ctx context.Context, params map[string]string) (any, error) {
			return getURLJSON(ctx, client, params)
		}, nil
	default:
		return func(ctx context.Context, params map[string]string) (any, error) {
			body, err := fetch(ctx, client, params)
			if err != nil || body == nil {
				return nil, err
			}
			return string(body), nil
		}, nil
	}
}

// fetch performs the GET. Non-2xx responses are an expected failure and
// return a nil body without error.
func fetch(ctx context.Context, client *http.Client, params map[string]string) ([]byte, error) {
	resp, err := get(ctx, client, params)
	if err != nil || resp == nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func get(ctx context.Context, client *http.Client, params map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params["url"], nil)
	if err != nil {
		return nil, err
	}
	for k, v := range params {
		if name, ok := strings.CutPrefix(k, headerPrefix); ok && name != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", params["url"], err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, nil
	}
	return resp, nil
}

// downloadURL streams the body into a temporary file named after the URL
// path and returns its path.
func downloadURL(ctx context.Context, client *http.Client, params map[string]string) (any, error) {
	resp, err := get(ctx, client, params)
	if err != nil || resp == nil {
		return nil, err
	}
	defer resp.Body.Close()

	dir, err := os.MkdirTemp("", results.ScratchDirPrefix)
	if err != nil {
		return nil, err
	}
	name := "download"
	if u, err := url.Parse(params["url"]); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}

	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return nil, fmt.Errorf("downloading %s: %w", params["url"], err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return dst, nil
}

// getURLJSON decodes the body as JSON. With json_path set only the selected
// part is returned.
func getURLJSON(ctx context.Context, client *http.Client, params map[string]string) (any, error) {
	body, err := fetch(ctx, client, params)
	if err != nil || body == nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, nil
	}

	if p := params["json_path"]; p != "" {
		sel := gjson.GetBytes(body, p)
		if !sel.Exists() {
			return nil, nil
		}
		body = []byte(sel.Raw)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", params["url"], err)
	}
	return data, nil
}
