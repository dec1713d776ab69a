package transport

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// DecodeBody converts body to UTF-8 using the charset declared in
// contentType, a BOM, or an HTML meta tag, in that order of precedence
// as determined by the HTML sniffing algorithm. It returns the decoded
// body and the name of the detected encoding.
func DecodeBody(body []byte, contentType string) ([]byte, string, error) {
	if len(body) == 0 {
		return body, "", nil
	}
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if enc == nil || strings.EqualFold(name, "utf-8") {
		return body, "utf-8", nil
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
	if err != nil {
		return body, name, fmt.Errorf("failed to decode %s body: %w", name, err)
	}
	return decoded, name, nil
}
