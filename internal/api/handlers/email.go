package handlers

import (
	"net/http"

	"github.com/dvloznov/welth/internal/api/middleware"
	"github.com/dvloznov/welth/internal/email"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/go-playground/validator/v10"
)

// EmailHandler sends the fixed diagnostic message.
type EmailHandler struct {
	sender   email.Sender
	message  email.Message
	validate *validator.Validate
}

// NewEmailHandler creates a handler that sends msg through sender.
func NewEmailHandler(sender email.Sender, msg email.Message) *EmailHandler {
	return &EmailHandler{
		sender:   sender,
		message:  msg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// TestEmail handles GET /api/test-email. The outcome is reported in the body
// only; the status is 200 either way.
func (h *EmailHandler) TestEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if err := h.validate.Struct(h.message); err != nil {
		log.Error().Err(err).Msg("Diagnostic email is misconfigured")
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   validationMessage(err),
		})
		return
	}

	result, err := h.sender.Send(ctx, h.message)
	if err != nil {
		log.Error().Err(err).Msg("Failed to send diagnostic email")
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	log.Info().Str("email_id", result.ID).Msg("Diagnostic email sent")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}
