package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/geo"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/report"
)

var validate = validator.New()

// Tracking is satisfied by *geo.Matcher.
type Tracking interface {
	FindEventsByLocationRadius(ctx context.Context, query geo.LocationQuery) ([]geo.MatchedEvent, error)
	GetLocationSummary(ctx context.Context, query geo.LocationQuery) (geo.LocationSummary, error)
}

// Ingestor is satisfied by *geo.Ingestor.
type Ingestor interface {
	Ingest(ctx context.Context, source string, body []byte) (geo.TrackingEvent, error)
}

// Reports is satisfied by *report.Builder.
type Reports interface {
	Build(ctx context.Context, req report.Request) (*report.SiteReport, error)
}

// Services are the handlers' dependencies. Health may be nil.
type Services struct {
	Weather  report.WeatherSource
	Tracking Tracking
	Ingestor Ingestor
	Reports  Reports
	Health   func(ctx context.Context) error
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, svc Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if svc.Health != nil {
			if err := svc.Health(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":  "degraded",
					"service": serviceName,
					"error":   err.Error(),
				})
			}
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		loc, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshot := svc.Weather.GetCurrentWeather(c.UserContext(), loc.Latitude, loc.Longitude, loc.Date)
		return c.JSON(fiber.Map{
			"latitude":  loc.Latitude,
			"longitude": loc.Longitude,
			"date":      loc.Date,
			"weather":   snapshot,
		})
	})

	v1.Get("/weather/forecast", func(c *fiber.Ctx) error {
		loc, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		forecast := svc.Weather.GetForecast(c.UserContext(), loc.Latitude, loc.Longitude)
		return c.JSON(fiber.Map{
			"latitude":  loc.Latitude,
			"longitude": loc.Longitude,
			"forecast":  forecast,
		})
	})

	v1.Get("/tracking/nearby", func(c *fiber.Ctx) error {
		query, err := parseTrackingQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		events, err := svc.Tracking.FindEventsByLocationRadius(c.UserContext(), query)
		if err != nil {
			return trackingError(err)
		}
		if events == nil {
			events = []geo.MatchedEvent{}
		}
		return c.JSON(fiber.Map{
			"count":  len(events),
			"events": events,
		})
	})

	v1.Get("/tracking/summary", func(c *fiber.Ctx) error {
		query, err := parseTrackingQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		summary, err := svc.Tracking.GetLocationSummary(c.UserContext(), query)
		if err != nil {
			return trackingError(err)
		}
		return c.JSON(summary)
	})

	v1.Post("/tracking/webhook/:source", func(c *fiber.Ctx) error {
		source := c.Params("source")
		if err := validate.Var(source, "required,max=64,printascii"); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "source must be 1-64 printable characters")
		}

		event, err := svc.Ingestor.Ingest(c.UserContext(), source, c.Body())
		if err != nil {
			if errors.Is(err, geo.ErrInvalidPayload) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to store tracking event")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":    event.ID,
			"event": event,
		})
	})

	v1.Post("/reports/site-conditions", func(c *fiber.Ctx) error {
		var body reportBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "request body must be JSON")
		}
		if err := validate.Struct(body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, describeValidation(err))
		}

		rep, err := svc.Reports.Build(c.UserContext(), body.toRequest())
		if err != nil {
			return trackingError(err)
		}
		return c.JSON(rep)
	})
}

// trackingError maps matcher failures onto HTTP errors. Storage detail
// stays in the logs.
func trackingError(err error) error {
	switch {
	case errors.Is(err, geo.ErrInvalidQuery):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, geo.ErrQueryFailed):
		return fiber.NewError(fiber.StatusInternalServerError, geo.ErrQueryFailed.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
}

// locationQuery holds query parameters for identifying a point and day.
type locationQuery struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
	Date      string  `validate:"omitempty,datetime=2006-01-02"`
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery
	var err error

	if q.Latitude, err = parseFloatParam(c, "lat"); err != nil {
		return q, err
	}
	if q.Longitude, err = parseFloatParam(c, "lon"); err != nil {
		return q, err
	}
	q.Date = strings.TrimSpace(c.Query("date"))

	if err := validate.Struct(q); err != nil {
		return q, errors.New(describeValidation(err))
	}
	return q, nil
}

// trackingQuery adds radius and event type filters to a location query.
type trackingQuery struct {
	Location   locationQuery
	RadiusKm   float64  `validate:"gte=0"`
	EventTypes []string `validate:"dive,required,max=64"`
}

func parseTrackingQuery(c *fiber.Ctx) (geo.LocationQuery, error) {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return geo.LocationQuery{}, err
	}

	q := trackingQuery{Location: loc}
	if c.Query("radius_km") != "" {
		if q.RadiusKm, err = parseFloatParam(c, "radius_km"); err != nil {
			return geo.LocationQuery{}, err
		}
	}
	if raw := c.Query("event_types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			q.EventTypes = append(q.EventTypes, strings.TrimSpace(t))
		}
	}
	if err := validate.Struct(q); err != nil {
		return geo.LocationQuery{}, errors.New(describeValidation(err))
	}

	return geo.LocationQuery{
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Date:       loc.Date,
		RadiusKm:   q.RadiusKm,
		EventTypes: q.EventTypes,
	}, nil
}

func parseFloatParam(c *fiber.Ctx, name string) (float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, fmt.Errorf("%s query parameter is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

// reportBody is the JSON body of a site-conditions report request.
type reportBody struct {
	Latitude  *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Date      string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	RadiusKm  float64  `json:"radius_km" validate:"gte=0"`
	SiteName  string   `json:"site_name" validate:"max=200"`
}

func (b reportBody) toRequest() report.Request {
	return report.Request{
		Latitude:  *b.Latitude,
		Longitude: *b.Longitude,
		Date:      b.Date,
		RadiusKm:  b.RadiusKm,
		SiteName:  strings.TrimSpace(b.SiteName),
	}
}

// describeValidation turns validator errors into a short client message.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldName(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

var fieldNames = map[string]string{
	"Latitude":   "lat",
	"Longitude":  "lon",
	"Date":       "date",
	"RadiusKm":   "radius_km",
	"EventTypes": "event_types",
	"SiteName":   "site_name",
}

func fieldName(field string) string {
	if name, ok := fieldNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}
