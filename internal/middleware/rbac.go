package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/educert-api/internal/utils"
)

// Roles carried in the token's role claim.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// RequireRole ensures that the authenticated user possesses one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role := normalizeRoleValue(c.Locals(LocalUserRole))
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// RequireAdmin allows administrators only.
func RequireAdmin() fiber.Handler {
	return RequireRole(RoleAdmin)
}

// RequireOwner allows administrators, and students whose token carries the
// student id found in the named route parameter.
func RequireOwner(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if IsAdmin(c) {
			return c.Next()
		}

		studentID, _ := c.Locals(LocalStudentID).(string)
		if studentID == "" || studentID != strings.TrimSpace(c.Params(param)) {
			return utils.SendError(c, fiber.StatusForbidden, "not allowed to act for this student")
		}
		return c.Next()
	}
}

// IsAdmin reports whether the authenticated user has administrative rights.
func IsAdmin(c *fiber.Ctx) bool {
	return normalizeRoleValue(c.Locals(LocalUserRole)) == RoleAdmin
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		if value == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
