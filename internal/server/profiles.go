package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/keshly/keshly/internal/auth"
	"github.com/keshly/keshly/internal/common"
)

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type profileRequest struct {
	FullName string `json:"full_name" validate:"required,max=200"`
}

func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", common.ErrInvalidInput)
	}
	return common.ValidateStruct(dst)
}

func (s *HTTPServer) signUp(c *fiber.Ctx) error {
	var req auth.SignUpInput
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: malformed request body", common.ErrInvalidInput)
	}
	sess, err := s.svc.Auth.SignUp(c.UserContext(), req)
	if err != nil {
		return err
	}
	if sess == nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"confirmation_required": true})
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

func (s *HTTPServer) signIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sess, err := s.svc.Auth.SignIn(c.UserContext(), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return err
	}
	return c.JSON(sess)
}

func (s *HTTPServer) refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sess, err := s.svc.Auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(sess)
}

func (s *HTTPServer) confirm(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return fmt.Errorf("%w: token is required", common.ErrInvalidInput)
	}
	if err := s.svc.Auth.Confirm(c.UserContext(), token); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"confirmed": true})
}

func (s *HTTPServer) getProfile(c *fiber.Ctx) error {
	p, err := s.svc.Profiles.Get(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (s *HTTPServer) putProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := s.svc.Profiles.UpdateName(c.UserContext(), currentUser(c), req.FullName)
	if err != nil {
		return err
	}
	return c.JSON(p)
}
