package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kidslab-backend/internal/http/response"
	"github.com/yungbote/kidslab-backend/internal/platform/apierr"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/services"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type TranscribeHandler struct {
	log         *logger.Logger
	transcriber Transcriber
}

// NewTranscribeHandler accepts a nil transcriber; the endpoint then reports
// the feature as disabled.
func NewTranscribeHandler(log *logger.Logger, t Transcriber) *TranscribeHandler {
	return &TranscribeHandler{log: log.With("handler", "TranscribeHandler"), transcriber: t}
}

// POST /api/transcribe
// Accepts multipart form field "audio" or a raw audio body.
func (h *TranscribeHandler) Transcribe(c *gin.Context) {
	if h.transcriber == nil {
		response.RespondAPIError(c, apierr.Disabled("speech recognition"))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxTranscribeBytes+1<<20)

	audio, mimeType, err := readAudio(c)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if len(audio) == 0 {
		response.RespondAPIError(c, apierr.BadRequest("audio is required"))
		return
	}
	if len(audio) > services.MaxTranscribeBytes {
		response.RespondAPIError(c, apierr.BadRequest("audio is larger than %d bytes", services.MaxTranscribeBytes))
		return
	}

	text, err := h.transcriber.Transcribe(c.Request.Context(), audio, mimeType)
	if err != nil {
		h.log.Warn("transcription failed", "mime_type", mimeType, "bytes", len(audio), "error", err)
		response.RespondAPIError(c, apierr.New(http.StatusBadGateway, apierr.CodeUpstreamFailed, err))
		return
	}
	response.RespondOK(c, gin.H{"text": text})
}

func readAudio(c *gin.Context) ([]byte, string, error) {
	ct := strings.ToLower(c.ContentType())
	if strings.HasPrefix(ct, "multipart/") {
		fh, err := c.FormFile("audio")
		if err != nil {
			return nil, "", apierr.BadRequest("missing audio file: %v", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", apierr.BadRequest("open audio file: %v", err)
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return nil, "", apierr.BadRequest("read audio file: %v", err)
		}
		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = http.DetectContentType(b)
		}
		return b, mimeType, nil
	}
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, "", apierr.BadRequest("read audio body: %v", err)
	}
	return b, ct, nil
}
