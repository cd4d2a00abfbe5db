package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
)

var ErrNoText = errors.New("document has no extractable text")

// TextFetcher downloads a document and returns its text.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// PDFFetcher downloads OCR'd PDFs by SAS URL.
type PDFFetcher struct {
	client *http.Client
}

func NewPDFFetcher(client *http.Client) *PDFFetcher {
	return &PDFFetcher{client: client}
}

func (f *PDFFetcher) FetchText(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", errors.New("document url is empty")
	}
	data, err := httpclient.Get(ctx, f.client, url)
	if err != nil {
		return "", fmt.Errorf("download document: %w", err)
	}
	return ExtractText(data)
}

// ExtractText concatenates the plain text of every page. Bodies that are not
// PDFs are returned as text.
func ExtractText(data []byte) (text string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF")) {
		text = string(data)
		if strings.TrimSpace(text) == "" {
			return "", ErrNoText
		}
		return text, nil
	}

	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(content)
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrNoText
	}
	return sb.String(), nil
}
