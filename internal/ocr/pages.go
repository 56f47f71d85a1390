package ocr

import (
	"bytes"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var disableConfigDir sync.Once

// CountPDFPages returns the page count of a PDF, or 1 when it cannot be read.
func CountPDFPages(data []byte) int {
	disableConfigDir.Do(api.DisableConfigDir)

	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
