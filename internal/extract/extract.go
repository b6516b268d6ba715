// Package extract turns files handed to the CLI into plain text for analysis.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxTextLength caps extracted text at the size the API accepts for a
// transcript.
const MaxTextLength = 50000

// ErrEmpty is returned when a file yields no text.
var ErrEmpty = errors.New("no text found")

var pdfMagic = []byte("%PDF-")

// File reads path and returns its text. PDFs are detected by content, not
// extension; anything else is read as UTF-8 text.
func File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	var text string
	if IsPDF(data) {
		text, err = PDF(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", fmt.Errorf("extracting %s: %w", filepath.Base(path), err)
		}
	} else {
		text = string(data)
	}
	return clean(text)
}

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// PDF extracts the plain text of every page.
func PDF(r io.ReaderAt, size int64) (string, error) {
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

func clean(text string) (string, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return "", ErrEmpty
	}
	if r := []rune(text); len(r) > MaxTextLength {
		text = string(r[:MaxTextLength])
	}
	return text, nil
}
