package httpx

import (
	"io"
	"net/http"
	"strconv"

	"github.com/lgu-emis/emis-web/internal/emisapi"
)

// Stream copies an upstream download to w, keeping its content headers.
// Missing values fall back to contentType and disposition. The body is
// closed.
func Stream(w http.ResponseWriter, dl *emisapi.Download, contentType, disposition string) (int64, error) {
	defer dl.Body.Close()
	if dl.ContentType != "" {
		contentType = dl.ContentType
	}
	if dl.ContentDisposition != "" {
		disposition = dl.ContentDisposition
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	if dl.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	return io.Copy(w, dl.Body)
}
