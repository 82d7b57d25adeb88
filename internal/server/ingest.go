package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/ingest"
)

type modeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=qr link manual"`
}

type sourceRequest struct {
	URL string `json:"url" validate:"max=4096"`
}

type detailsRequest struct {
	Date  *string `json:"datum" validate:"omitempty,max=32"`
	Time  *string `json:"vreme" validate:"omitempty,max=32"`
	Place *string `json:"mesto" validate:"omitempty,max=200"`
}

func (s *HTTPServer) flow(c *fiber.Ctx) *ingest.Reconciler {
	return s.svc.Flows.Get(currentUser(c))
}

// reply writes the snapshot, or the error with the snapshot attached.
func (s *HTTPServer) reply(c *fiber.Ctx, snap ingest.Snapshot, err error) error {
	if err != nil {
		return s.writeError(c, err, &snap)
	}
	return c.JSON(snap)
}

func itemIndex(c *fiber.Ctx) (int, error) {
	i, err := c.ParamsInt("index")
	if err != nil {
		return 0, fmt.Errorf("%w: item index must be an integer", common.ErrInvalidInput)
	}
	return i, nil
}

func (s *HTTPServer) snapshot(c *fiber.Ctx) error {
	return c.JSON(s.flow(c).Snapshot())
}

func (s *HTTPServer) selectMode(c *fiber.Ctx) error {
	var req modeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	mode, _ := constants.ParseEntryMode(req.Mode)
	snap, err := s.flow(c).SelectMode(mode)
	return s.reply(c, snap, err)
}

func (s *HTTPServer) submitSource(c *fiber.Ctx) error {
	var req sourceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	snap, err := s.flow(c).SubmitSource(c.UserContext(), req.URL)
	return s.reply(c, snap, err)
}

func (s *HTTPServer) addItem(c *fiber.Ctx) error {
	snap, err := s.flow(c).AddItem()
	return s.reply(c, snap, err)
}

func (s *HTTPServer) updateItem(c *fiber.Ctx) error {
	i, err := itemIndex(c)
	if err != nil {
		return err
	}
	var patch ingest.ItemPatch
	if err := c.BodyParser(&patch); err != nil {
		return fmt.Errorf("%w: malformed request body", common.ErrInvalidInput)
	}
	snap, err := s.flow(c).UpdateItem(i, patch)
	return s.reply(c, snap, err)
}

func (s *HTTPServer) removeItem(c *fiber.Ctx) error {
	i, err := itemIndex(c)
	if err != nil {
		return err
	}
	snap, err := s.flow(c).RemoveItem(i)
	return s.reply(c, snap, err)
}

func (s *HTTPServer) setDetails(c *fiber.Ctx) error {
	var req detailsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	r := s.flow(c)
	snap := r.Snapshot()
	var err error
	if req.Date != nil {
		if snap, err = r.SetDate(*req.Date); err != nil {
			return s.reply(c, snap, err)
		}
	}
	if req.Time != nil {
		if snap, err = r.SetTime(*req.Time); err != nil {
			return s.reply(c, snap, err)
		}
	}
	if req.Place != nil {
		snap, err = r.SetPlace(*req.Place)
	}
	return s.reply(c, snap, err)
}

func (s *HTTPServer) save(c *fiber.Ctx) error {
	snap, err := s.flow(c).Save(c.UserContext())
	return s.reply(c, snap, err)
}

func (s *HTTPServer) reset(c *fiber.Ctx) error {
	snap, err := s.flow(c).Reset()
	return s.reply(c, snap, err)
}

func (s *HTTPServer) suggest(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		return fmt.Errorf("%w: name is required", common.ErrInvalidInput)
	}
	cat, ok := s.flow(c).SuggestCategory(name)
	return c.JSON(fiber.Map{
		"kategorija": cat,
		"name":       cat.Name(),
		"found":      ok,
	})
}
