package api

import "github.com/gofiber/fiber/v2"

// envelope is the uniform JSON wrapper every handler responds with,
// mirroring the teacher's {"success":...} response shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// RespondOK writes a 200 success envelope around data.
func RespondOK(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(envelope{Success: true, Data: data})
}

// RespondBadRequest writes a 400 error envelope.
func RespondBadRequest(c *fiber.Ctx, msg, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(envelope{Success: false, Error: msg, Detail: detail})
}

// RespondNotFound writes a 404 error envelope.
func RespondNotFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(envelope{Success: false, Error: msg})
}

// RespondInternalError writes a 500 error envelope.
func RespondInternalError(c *fiber.Ctx, msg, detail string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(envelope{Success: false, Error: msg, Detail: detail})
}

// RespondServiceUnavailable writes a 503 error envelope with a Retry-After
// header, matching the teacher's readiness-gate response.
func RespondServiceUnavailable(c *fiber.Ctx, msg, detail string) error {
	c.Set("Retry-After", "10")
	return c.Status(fiber.StatusServiceUnavailable).JSON(envelope{Success: false, Error: msg, Detail: detail})
}
