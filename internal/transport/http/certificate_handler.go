package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"skillquiz-service/internal/app"
	"skillquiz-service/internal/certificate"
	"skillquiz-service/internal/domain"
	"skillquiz-service/internal/logger"
)

// CertificateHandler serves the certificate of a completed session as a PNG download.
type CertificateHandler struct {
	service *app.QuizService
	log     *logger.Logger
}

func NewCertificateHandler(service *app.QuizService, log *logger.Logger) *CertificateHandler {
	return &CertificateHandler{service: service, log: log}
}

func (h *CertificateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	result, err := h.service.Result(sessionID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	png, err := h.service.Certificate(r.Context(), sessionID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error("render certificate failed", "session_id", sessionID, "error", err)
		}
		http.Error(w, err.Error(), status)
		return
	}

	name := certificate.FileName(domain.CertificateRequest{Subject: result.Subject, Date: result.CompletedAt})
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrResultNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProfileRequired):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
