package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/export"
	"github.com/keshly/keshly/internal/receipts"
)

func (s *HTTPServer) home(c *fiber.Ctx) error {
	h, err := s.svc.Stats.Home(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(h)
}

func (s *HTTPServer) monthly(c *fiber.Ctx) error {
	months, err := s.svc.Stats.Monthly(c.UserContext(), currentUser(c), c.QueryInt("months", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"months": months})
}

func (s *HTTPServer) period(c *fiber.Ctx) error {
	sum, err := s.svc.Stats.Period(c.UserContext(), currentUser(c), c.Query("from"), c.Query("to"))
	if err != nil {
		return err
	}
	return c.JSON(sum)
}

func (s *HTTPServer) listReceipts(c *fiber.Ctx) error {
	recs, err := s.svc.Receipts.ListReceipts(c.UserContext(), receipts.ListReceiptsRequest{
		UserID:   currentUser(c),
		FromDate: c.Query("from"),
		ToDate:   c.Query("to"),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"receipts": recs})
}

func (s *HTTPServer) recent(c *fiber.Ctx) error {
	recs, err := s.svc.Stats.Recent(c.UserContext(), currentUser(c), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"receipts": recs})
}

// parseDay reads an optional YYYY-MM-DD query parameter.
func parseDay(c *fiber.Ctx, key string) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", common.ErrInvalidInput, key)
	}
	return &t, nil
}

func (s *HTTPServer) exportXLSX(c *fiber.Ctx) error {
	from, err := parseDay(c, "from")
	if err != nil {
		return err
	}
	to, err := parseDay(c, "to")
	if err != nil {
		return err
	}

	user := currentUser(c)
	xlsx, err := s.svc.Export.ExportReceiptsXLSX(c.UserContext(), user, from, to)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "user_id", user, "err", err)
		return err
	}

	c.Attachment(fmt.Sprintf("keshly-%s.xlsx", time.Now().Format("2006-01-02")))
	c.Set(fiber.HeaderContentType, export.ContentType)
	return c.Send(xlsx)
}
