package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feedloop/ingest"
	"feedloop/notify"
	"feedloop/poller"
	"feedloop/store"
	"feedloop/validate"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type ServerConfig struct {

	// The notifier wrapping the canonical store
	Notifier *notify.Notifier

	// The pipeline used by the interactive add-feed endpoint
	Pipeline *ingest.Pipeline

	// The scheduler, exposed read-only on the status endpoint
	Scheduler *poller.Scheduler

	// Broadcast channel to pass change events to SSE clients
	Broadcaster *Broadcaster
}

type addFeedRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Returns a fiber.App instance to be used as the HTTP surface of the
// feed synchronization engine
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		stop := time.Now()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Cache-Control",
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/api/status", func(c *fiber.Ctx) error {
		feeds, posts := config.Notifier.Snapshot()
		return c.JSON(fiber.Map{
			"scheduler": config.Scheduler.State(),
			"feeds":     len(feeds),
			"posts":     len(posts),
		})
	})

	app.Get("/api/feeds", func(c *fiber.Ctx) error {
		feeds, _ := config.Notifier.Snapshot()
		return c.JSON(feeds)
	})

	app.Get("/api/posts", func(c *fiber.Ctx) error {
		_, posts := config.Notifier.Snapshot()
		return c.JSON(posts)
	})

	// Interactive add-feed: validation and ingestion errors come back as
	// typed failures and leave the store untouched.
	app.Post("/api/feeds", func(c *fiber.Ctx) error {
		var req addFeedRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "malformedBody"})
		}

		if err := validate.FeedURL(req.URL, config.Notifier.ListFeedURLs()); err != nil {
			return respondError(c, err)
		}

		feed, posts, err := config.Pipeline.AddNewFeed(c.Context(), req.URL)
		if err != nil {
			return respondError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"feed":  feed,
			"posts": len(posts),
		})
	})

	app.Post("/api/posts/:id/viewed", func(c *fiber.Ctx) error {
		viewed := config.Notifier.MarkViewed(c.Params("id"))
		return c.JSON(fiber.Map{"viewed": viewed})
	})

	app.Delete("/api/events/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(fiber.StatusOK).SendString("OK")
	})

	app.Get("/api/events/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		eventChannel := make(chan notify.Event, 10) // Buffered channel
		aliveChan := time.NewTicker(5 * time.Second)

		defer aliveChan.Stop()

		// Register the client
		bc.AddClient(key, eventChannel)

		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-eventChannel:
					if !ok {
						log.Warnf("Event channel closed for client %s", key)
						return
					}
					jsonEvent, err := json.Marshal(event)
					if err != nil {
						log.Errorf("Error marshalling event for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Path, jsonEvent); err != nil {
						log.Warnf("Failed to send event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

// respondError maps the error taxonomy onto HTTP statuses and stable codes.
func respondError(c *fiber.Ctx, err error) error {
	var validationErr *validate.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: string(validationErr.Reason)})
	}

	var duplicateErr *store.DuplicateFeedError
	if errors.As(err, &duplicateErr) {
		return c.Status(fiber.StatusConflict).JSON(errorResponse{Error: string(validate.ReasonDuplicateURL)})
	}

	kind := ingest.KindOf(err)
	switch kind {
	case ingest.KindNetwork, ingest.KindTimeout, ingest.KindEmptyResponse:
		return c.Status(fiber.StatusBadGateway).JSON(errorResponse{Error: string(kind)})
	case ingest.KindInvalidFormat:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: string(kind)})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: string(ingest.KindUnknown)})
	}
}
