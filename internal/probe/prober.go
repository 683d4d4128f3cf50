package probe

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"

	"github.com/vHozang/CheckLink/pkg/types"
)

const defaultMaxBodyBytes = 5 * 1024 * 1024 // 5MB cap

// checkLink issues one GET against the normalized URL and converts the
// outcome into exactly one ProbeResult. No error escapes: transport failures
// are folded into the classification together with a diagnostic message.
func checkLink(ctx context.Context, client *http.Client, rules RuleSet, maxBodyBytes int64, rawURL string) types.ProbeResult {
	normalized := Normalize(rawURL)
	result := types.ProbeResult{
		InputURL:      rawURL,
		NormalizedURL: normalized,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		result.Classification = types.ClassUnreachable
		result.Error = err.Error()
		return result
	}

	resp, err := client.Do(req)
	if err != nil {
		result.Classification = classifyTransportError(err)
		result.Error = err.Error()
		return result
	}

	body, err := readBody(resp, maxBodyBytes)
	if err != nil {
		result.Classification = classifyTransportError(err)
		result.Error = err.Error()
		return result
	}

	finalURL := normalized
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	result.FinalURL = finalURL
	result.HTTPStatus = resp.StatusCode
	result.Title = pageTitle(body)
	result.Classification = rules.Classify(finalURL, string(body), resp.StatusCode)
	return result
}

// readBody decompresses the response body and caps it at maxBodyBytes. The
// content heuristics only need the document itself, so anything past the cap
// is dropped rather than treated as an error.
func readBody(resp *http.Response, maxBodyBytes int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

// pageTitle extracts the document title when the body parses as HTML.
func pageTitle(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
