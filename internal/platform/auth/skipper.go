package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: the health probe and the selector
// lists a client needs before it can build an upload.
var publicPaths = map[string]bool{
	"/health":         true,
	"/api/v1/options": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. It matches on the registered route path.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
