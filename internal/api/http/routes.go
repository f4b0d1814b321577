package httpapi

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/i474232898/geomag-gateway/internal/geomag"
)

var validate = validator.New()

// Defaults of the station shortcut route.
const (
	defaultName   = "magnetic-field-component"
	defaultSensor = "50"
	defaultMethod = "60s"
	defaultAspect = "X-magnetic-north"
)

const seriesPath = "/data/:station/:name/:sensor/:method/:aspect"

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *geomag.Service) {
	h := &handlers{service: service}
	v1 := app.Group("/api/v1")

	v1.Get("/dataSummary", h.summary)
	v1.Get("/dataSummary/:station", h.station)
	v1.Get("/stations", h.stations)

	v1.Post("/data/batch", h.batch)
	v1.Get("/data/:station/latest/:period", h.stationLatest)

	v1.Get(seriesPath+"/latest/:period", h.data(func(c *fiber.Ctx) (geomag.TimeSelector, error) {
		return geomag.ParsePeriod(c.Params("period"))
	}))
	v1.Get(seriesPath+"/range/:start/:end", h.data(func(c *fiber.Ctx) (geomag.TimeSelector, error) {
		return geomag.ParseSelector("", c.Params("start"), c.Params("end"), "")
	}))
	v1.Get(seriesPath+"/day/:date", h.data(func(c *fiber.Ctx) (geomag.TimeSelector, error) {
		return geomag.ParseSelector("", "", "", c.Params("date"))
	}))
	v1.Get(seriesPath+"/stats", h.stats)
}

type handlers struct {
	service *geomag.Service
}

// seriesKey reads the series identity from the path. Fiber reuses its
// buffers, so every value is copied.
func seriesKey(c *fiber.Ctx) geomag.QueryKey {
	return geomag.QueryKey{
		Domain:     utils.CopyString(c.Query("domain")),
		Station:    utils.CopyString(c.Params("station")),
		Name:       utils.CopyString(c.Params("name")),
		SensorCode: utils.CopyString(c.Params("sensor")),
		Method:     utils.CopyString(c.Params("method")),
		Aspect:     utils.CopyString(c.Params("aspect")),
	}
}

func (h *handlers) data(selector func(c *fiber.Ctx) (geomag.TimeSelector, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sel, err := selector(c)
		if err != nil {
			return err
		}
		return h.writeData(c, seriesKey(c).WithSelector(sel))
	}
}

func (h *handlers) stationLatest(c *fiber.Ctx) error {
	sel, err := geomag.ParsePeriod(c.Params("period"))
	if err != nil {
		return err
	}
	key := geomag.QueryKey{
		Domain:     utils.CopyString(c.Query("domain")),
		Station:    utils.CopyString(c.Params("station")),
		Name:       utils.CopyString(c.Query("name", defaultName)),
		SensorCode: utils.CopyString(c.Query("sensor_code", defaultSensor)),
		Method:     utils.CopyString(c.Query("method", defaultMethod)),
		Aspect:     utils.CopyString(c.Query("aspect", defaultAspect)),
		Selector:   sel,
	}
	return h.writeData(c, key)
}

func (h *handlers) writeData(c *fiber.Ctx, key geomag.QueryKey) error {
	res, err := h.service.Data(c.UserContext(), key)
	if err != nil {
		return err
	}
	c.Set("X-Cache", string(res.CacheStatus))
	return c.JSON(res)
}

func (h *handlers) stats(c *fiber.Ctx) error {
	sel, err := geomag.ParseSelector(c.Query("period"), c.Query("start_date"), c.Query("end_date"), c.Query("date"))
	if err != nil {
		return err
	}

	res, err := h.service.Stats(c.UserContext(), seriesKey(c).WithSelector(sel))
	if err != nil {
		return err
	}
	c.Set("X-Cache", string(res.CacheStatus))
	return c.JSON(res)
}

func (h *handlers) summary(c *fiber.Ctx) error {
	domain := utils.CopyString(c.Query("domain"))
	summary, status, err := h.service.Summary(c.UserContext(), domain)
	if err != nil {
		return err
	}
	c.Set("X-Cache", string(status))
	return c.JSON(fiber.Map{"data": summary, "cache": status})
}

func (h *handlers) station(c *fiber.Ctx) error {
	info, err := h.service.Station(c.UserContext(), utils.CopyString(c.Query("domain")), utils.CopyString(c.Params("station")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": info})
}

func (h *handlers) stations(c *fiber.Ctx) error {
	domain := utils.CopyString(c.Query("domain", geomag.DefaultDomain))
	codes, err := h.service.Stations(c.UserContext(), domain)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"domain": domain, "stations": codes, "count": len(codes)})
}

func (h *handlers) batch(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return geomag.WrapError(geomag.KindInvalidQuery, err, "request body must be a JSON batch request")
	}
	if err := validate.Struct(req); err != nil {
		return geomag.WrapError(geomag.KindInvalidQuery, err, "at least one item is required")
	}

	keys, opts, err := req.toKeys()
	if err != nil {
		return err
	}

	res, err := h.service.Batch(c.UserContext(), keys, opts)
	if err != nil {
		return err
	}
	return c.JSON(newBatchResponse(res))
}
