package challenge

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Decoder turns a challenge image into its text. Results are best effort;
// only the post-submission landmark decides whether an answer was right.
type Decoder interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, image []byte) (string, error)

func (f DecoderFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// ImageFetcher downloads a challenge image.
type ImageFetcher interface {
	Fetch(ctx context.Context, src string) ([]byte, error)
}

// ImageFetcherFunc adapts a function to ImageFetcher.
type ImageFetcherFunc func(ctx context.Context, src string) ([]byte, error)

func (f ImageFetcherFunc) Fetch(ctx context.Context, src string) ([]byte, error) {
	return f(ctx, src)
}

// HTTPImageFetcher downloads images with resty and decodes data: URLs inline.
type HTTPImageFetcher struct {
	client *resty.Client
}

// NewHTTPImageFetcher wraps client, or a fresh resty client when nil.
func NewHTTPImageFetcher(client *resty.Client) *HTTPImageFetcher {
	if client == nil {
		client = resty.New()
	}
	return &HTTPImageFetcher{client: client}
}

func (f *HTTPImageFetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURL(src)
	}
	resp, err := f.client.R().SetContext(ctx).Get(src)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("image request returned status %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("image response is empty")
	}
	return resp.Body(), nil
}

func decodeDataURL(src string) ([]byte, error) {
	comma := strings.IndexByte(src, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data url")
	}
	meta, payload := src[len("data:"):comma], src[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}

// HTTPDecoder posts the image to an OCR service that answers {"text": "..."}.
type HTTPDecoder struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPDecoder targets endpoint with client, or a fresh resty client when nil.
func NewHTTPDecoder(client *resty.Client, endpoint string) *HTTPDecoder {
	if client == nil {
		client = resty.New()
	}
	return &HTTPDecoder{client: client, endpoint: endpoint}
}

type decodeResponse struct {
	Text string `json:"text"`
}

func (d *HTTPDecoder) Solve(ctx context.Context, image []byte) (string, error) {
	var out decodeResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetFileReader("image", "challenge.jpg", bytes.NewReader(image)).
		SetResult(&out).
		Post(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("decoder request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("decoder returned status %d", resp.StatusCode())
	}
	return strings.TrimSpace(out.Text), nil
}
