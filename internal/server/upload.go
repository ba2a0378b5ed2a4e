package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
)

const formField = "file"

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// Upload accepts a multipart form with a single "file" part, stores it in the
// pending area and enqueues it.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, header, err := r.FormFile(formField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d bytes", h.maxBytes))
		case errors.Is(err, http.ErrMissingFile) && r.MultipartForm != nil && len(r.MultipartForm.Value[formField]) > 0:
			// a part without a filename is parsed as a plain value
			writeError(w, http.StatusBadRequest, common.ClientMessage(ingest.ErrNoFile))
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			writeError(w, http.StatusBadRequest, "No file part in request")
		default:
			writeError(w, http.StatusBadRequest, "Malformed upload")
		}
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
	}

	stored, err := h.gateway.Submit(r.Context(), header.Filename, file)
	if err != nil {
		status := common.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			common.LoggerFrom(r.Context(), h.logger).Error("upload failed", "filename", header.Filename, "error", err)
		}
		writeError(w, status, common.ClientMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:  stored + " uploaded and queued",
		Filename: stored,
	})
}
