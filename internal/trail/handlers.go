package trail

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/r15huu/HikeMates/internal/apperr"
)

// RegisterRoutes mounts the geocoding and trail search proxies. Both are open
// to anonymous callers.
func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/geocode", func(c *fiber.Ctx) error {
		places, err := svc.Geocode(c.UserContext(), c.Query("q"))
		if err != nil {
			return err
		}
		return c.JSON(places)
	})

	r.Get("/search", func(c *fiber.Ctx) error {
		latParam, lonParam := c.Query("lat"), c.Query("lon")
		if latParam == "" || lonParam == "" {
			return apperr.Validation("Missing query params: lat and lon")
		}
		lat, err := strconv.ParseFloat(latParam, 64)
		if err != nil {
			return errInvalidPoint
		}
		lon, err := strconv.ParseFloat(lonParam, 64)
		if err != nil {
			return errInvalidPoint
		}
		radius := 0
		if raw := c.Query("radius"); raw != "" {
			if radius, err = strconv.Atoi(raw); err != nil {
				return errInvalidRadius
			}
		}

		trails, err := svc.Search(c.UserContext(), SearchQuery{Lat: lat, Lon: lon, Radius: radius})
		if err != nil {
			return err
		}
		return c.JSON(trails)
	})
}
