package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/podcast-animator/internal/avatar"
)

// XUserHandler resolves an X handle to its profile picture
type XUserHandler struct {
	resolver *avatar.XResolver
}

func NewXUserHandler(resolver *avatar.XResolver) *XUserHandler {
	return &XUserHandler{resolver: resolver}
}

// Handle serves GET /x-user?username=. Lookup failures still answer 200 with
// a placeholder image so the UI can render the slot.
func (h *XUserHandler) Handle(c *fiber.Ctx) error {
	username := avatar.CleanHandle(c.Query("username"))
	if username == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Username is required", "ERR_NO_USERNAME")
	}
	if !avatar.ValidHandle(username) {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid X handle", "ERR_INVALID_HANDLE")
	}

	profile := h.resolver.Resolve(c.UserContext(), username)
	return c.JSON(fiber.Map{
		"username":          profile.Username,
		"name":              profile.Name,
		"profile_image_url": profile.ProfileImageURL,
		"placeholder":       avatar.IsPlaceholder(profile.ProfileImageURL),
	})
}
