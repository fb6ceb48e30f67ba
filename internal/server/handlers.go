package server

import (
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/parley/config"
	"github.com/mohammad-safakhou/parley/internal/extract"
	"github.com/mohammad-safakhou/parley/internal/orchestrator"
	"github.com/mohammad-safakhou/parley/internal/session"
)

// Handler holds the request handlers and their dependencies.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Store        session.Store
	Extractor    *extract.Extractor
	Limits       config.LimitsConfig
	logger       *log.Logger
}

// Process is the single pipeline endpoint: multipart form with optional
// message, optional file, optional session_id. Input validation failures are
// 400s and never touch the session.
func (h *Handler) Process(c echo.Context) error {
	message := c.FormValue("message")
	sessionID := c.FormValue("session_id")

	// Missing file (or a non-multipart body) just means a message-only turn.
	file, err := c.FormFile("file")
	if err != nil {
		file = nil
	}

	if message == "" && file == nil {
		return echo.NewHTTPError(http.StatusBadRequest, extract.ErrNoInput.Error())
	}

	req := orchestrator.Request{SessionID: sessionID, Message: message}

	if file != nil {
		fileType, err := extract.DetectFileType(file.Filename)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unsupported file type")
		}
		if err := h.Extractor.ValidateSize(fileType, file.Size); err != nil {
			if errors.Is(err, extract.ErrAudioTooLarge) {
				return echo.NewHTTPError(http.StatusBadRequest, "audio file exceeds the size limit")
			}
			return echo.NewHTTPError(http.StatusBadRequest, "file exceeds the size limit")
		}

		path, err := saveUpload(file)
		if err != nil {
			h.logger.Printf("saving upload: %v", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "could not store upload")
		}
		defer os.Remove(path)

		req.FilePath = path
		req.Filename = file.Filename
	}

	envelope := h.Orchestrator.ProcessTurn(c.Request().Context(), req)
	return c.JSON(http.StatusOK, envelope)
}

// GetSession is a debug view of a session's state.
func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id":      sess.ID,
		"created_at":      sess.CreatedAt,
		"last_active":     sess.LastActive,
		"message_count":   len(sess.Turns),
		"clarifications":  sess.Clarifications,
		"has_content":     sess.Extracted != nil,
		"last_intent":     sess.LastIntent,
		"last_confidence": sess.LastConfidence,
	})
}

// DeleteSession drops a session.
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.Store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "session delete failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// saveUpload copies the multipart file to a temp path for the extractor.
func saveUpload(file *multipart.FileHeader) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "parley-upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
