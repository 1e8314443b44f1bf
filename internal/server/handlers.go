package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/mmynk/splitscribe/internal/allocation"
	"github.com/mmynk/splitscribe/internal/images"
	"github.com/mmynk/splitscribe/internal/middleware"
	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/pipeline"
)

const (
	healthMessage      = "SplitScribe Bill-Scanning API is running"
	invalidImageDetail = "Invalid image file. Please upload a valid image."
	unavailableDetail  = "The bill scanning service is unavailable. Please try again."
	internalDetail     = "An error occurred while processing the bill."

	// formOverhead covers multipart boundaries and the text fields.
	formOverhead = 1 << 20
)

type billResponse struct {
	Status    string                  `json:"status"`
	Data      models.AllocationResult `json:"data"`
	ExpenseID string                  `json:"expense_id"`
	FilePath  string                  `json:"file_path,omitempty"`
	Replayed  bool                    `json:"replayed,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
}

// httpError is a failure with the status and detail the client sees.
type httpError struct {
	status int
	detail string
}

func (e *httpError) Error() string { return e.detail }

func badRequest(format string, args ...any) *httpError {
	return &httpError{status: http.StatusBadRequest, detail: fmt.Sprintf(format, args...)}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"hello": healthMessage})
}

// handleUploadBill processes a multipart upload with the bill image attached.
func (s *Server) handleUploadBill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.respondError(w, r, formError(err))
		return
	}

	userID, err := currentUser(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	file, _, err := r.FormFile("bill_image")
	if err != nil {
		s.respondError(w, r, badRequest("bill_image is required"))
		return
	}
	defer file.Close()

	data, err := images.ReadLimited(file, s.cfg.MaxUploadBytes)
	if err != nil {
		s.respondError(w, r, imageError(err))
		return
	}
	mimeType, err := images.DetectType(data)
	if err != nil {
		s.respondError(w, r, imageError(err))
		return
	}

	out, err := s.processor.Process(r.Context(), pipeline.Input{
		UserID:      userID,
		Instruction: r.FormValue("split_instruction"),
		Image:       data,
		MIMEType:    mimeType,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newBillResponse(out, ""))
}

// handleProcessStoredBill processes a bill image already stored in the bucket.
func (s *Server) handleProcessStoredBill(w http.ResponseWriter, r *http.Request) {
	if s.bucket == nil {
		respondJSON(w, http.StatusNotImplemented, map[string]string{"detail": "stored bills are not enabled"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, formOverhead)
	if err := parseForm(r); err != nil {
		s.respondError(w, r, formError(err))
		return
	}

	userID, err := currentUser(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	filePath := r.FormValue("file_path")
	if filePath == "" {
		s.respondError(w, r, badRequest("file_path is required"))
		return
	}
	if !ownedBy(filePath, userID) {
		s.respondError(w, r, &httpError{status: http.StatusForbidden, detail: "file_path must belong to the current user"})
		return
	}

	data, mimeType, err := s.bucket.Load(filePath)
	if err != nil {
		s.respondError(w, r, imageError(err))
		return
	}

	out, err := s.processor.Process(r.Context(), pipeline.Input{
		UserID:      userID,
		Instruction: r.FormValue("split_instruction"),
		Image:       data,
		MIMEType:    mimeType,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newBillResponse(out, filePath))
}

func newBillResponse(out *pipeline.Output, filePath string) billResponse {
	resp := billResponse{
		Status:    "success",
		Data:      out.Result,
		ExpenseID: out.ExpenseID(),
		FilePath:  filePath,
		Replayed:  out.Replayed,
	}
	if resp.Data.Splits == nil {
		resp.Data.Splits = []models.Split{}
	}
	for _, w := range out.Warnings {
		resp.Warnings = append(resp.Warnings, w.String())
	}
	return resp
}

// currentUser returns the acting user from the token and the current_user_id field.
func currentUser(r *http.Request) (string, error) {
	userID, err := middleware.ResolveUser(r.Context(), strings.TrimSpace(r.FormValue("current_user_id")))
	switch {
	case errors.Is(err, middleware.ErrUserRequired):
		return "", badRequest("current_user_id is required")
	case errors.Is(err, middleware.ErrUserMismatch):
		return "", &httpError{status: http.StatusForbidden, detail: err.Error()}
	}
	return userID, err
}

// ownedBy reports whether a bucket path sits under the user's folder.
func ownedBy(filePath, userID string) bool {
	first, _, _ := strings.Cut(strings.TrimPrefix(path.Clean("/"+filePath), "/"), "/")
	return first == userID
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(formOverhead)
	}
	return r.ParseForm()
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &httpError{status: http.StatusRequestEntityTooLarge, detail: "request body too large"}
	}
	return badRequest("invalid form: %v", err)
}

func imageError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, images.ErrTooLarge), errors.As(err, &tooLarge):
		return &httpError{status: http.StatusRequestEntityTooLarge, detail: "image too large"}
	case errors.Is(err, images.ErrNotImage):
		return badRequest(invalidImageDetail)
	case errors.Is(err, images.ErrInvalidPath):
		return badRequest("invalid file_path")
	case errors.Is(err, fs.ErrNotExist):
		return &httpError{status: http.StatusNotFound, detail: "stored bill not found"}
	}
	return err
}

// respondError maps pipeline and request errors to a status and a {"detail": ...} body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		httpErr   *httpError
		rejection *allocation.RejectionError
		unknown   *pipeline.UnknownUserError
		persist   *pipeline.PersistenceError
	)

	status, detail := http.StatusInternalServerError, internalDetail
	switch {
	case errors.As(err, &httpErr):
		status, detail = httpErr.status, httpErr.detail
	case errors.As(err, &rejection):
		status, detail = http.StatusBadRequest, rejection.Message
	case errors.Is(err, pipeline.ErrInvalidRequest):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.As(err, &unknown):
		status, detail = http.StatusNotFound, err.Error()
	case pipeline.IsTransient(err):
		status, detail = http.StatusServiceUnavailable, unavailableDetail
		w.Header().Set("Retry-After", "5")
	case errors.As(err, &persist):
		detail = "failed to save expense: " + persist.Op
	case allocation.IsContractViolation(err):
		detail = "the bill could not be split reliably, please try again"
	default:
		detail = internalDetail + " (" + errorCause(err) + ")"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	respondJSON(w, status, map[string]string{"detail": detail})
}

// errorCause returns the outermost context of err without the wrapped chain,
// so driver and upstream messages stay in the logs.
func errorCause(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i > 0 {
		msg = msg[:i]
	}
	return msg
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
