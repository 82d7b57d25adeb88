package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/ingest"
	"github.com/keshly/keshly/internal/llm"
)

const localUserID = "user_id"

// requireUser authenticates the bearer token and stores the user in the
// request context.
func (s *HTTPServer) requireUser(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return common.NewAppError(common.CodeAuth, "missing bearer token", common.ErrUnauthorized)
	}
	userID, err := s.svc.Auth.Authenticate(token)
	if err != nil {
		return err
	}
	c.Locals(localUserID, userID)

	ctx := common.WithUserID(c.UserContext(), userID)
	if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		ctx = common.WithRequestID(ctx, rid)
	}
	c.SetUserContext(ctx)
	return c.Next()
}

func currentUser(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(localUserID).(uuid.UUID)
	return id
}

type errorBody struct {
	Error    string           `json:"error"`
	Message  string           `json:"message"`
	Snapshot *ingest.Snapshot `json:"snapshot,omitempty"`
}

// statusFor maps an error onto an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	var ce *llm.ClassificationError
	switch {
	case errors.As(err, &fe):
		return fe.Code, "HTTP_ERROR"
	case errors.Is(err, common.ErrUnauthorized):
		return fiber.StatusUnauthorized, common.CodeAuth
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidInput):
		return fiber.StatusBadRequest, common.CodeValidation
	case errors.Is(err, common.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrBusy):
		return fiber.StatusConflict, "BUSY"
	case errors.Is(err, common.ErrConflict):
		return fiber.StatusConflict, "CONFLICT"
	case errors.Is(err, common.ErrNoItems), errors.Is(err, common.ErrInvalidState):
		return fiber.StatusUnprocessableEntity, common.CodeState
	case errors.As(err, &ce), errors.Is(err, common.ErrClassifier):
		return fiber.StatusBadGateway, common.CodeClassification
	case errors.Is(err, common.ErrExtraction):
		return fiber.StatusBadGateway, common.CodeExtraction
	case errors.Is(err, common.ErrDatabase):
		return fiber.StatusInternalServerError, common.CodePersistence
	default:
		return fiber.StatusInternalServerError, "INTERNAL"
	}
}

func messageFor(err error) string {
	var ae *common.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func (s *HTTPServer) handleError(c *fiber.Ctx, err error) error {
	return s.writeError(c, err, nil)
}

func (s *HTTPServer) writeError(c *fiber.Ctx, err error, snap *ingest.Snapshot) error {
	code, name := statusFor(err)
	body := errorBody{Error: name, Message: messageFor(err), Snapshot: snap}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("http.request.failed",
			"req_id", c.Locals(requestid.ConfigDefault.ContextKey),
			"path", c.Path(), "status", code, "err", err)
		if name == "INTERNAL" {
			body.Message = "internal error"
		}
	}
	return c.Status(code).JSON(body)
}
