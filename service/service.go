package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "modernc.org/sqlite"

	"github.com/narahir/RetroDiffusionApp/config"
	"github.com/narahir/RetroDiffusionApp/pkg/cache"
	"github.com/narahir/RetroDiffusionApp/pkg/db"
	"github.com/narahir/RetroDiffusionApp/pkg/events"
	"github.com/narahir/RetroDiffusionApp/pkg/exporter"
	"github.com/narahir/RetroDiffusionApp/pkg/inference"
	"github.com/narahir/RetroDiffusionApp/pkg/library"
	"github.com/narahir/RetroDiffusionApp/pkg/models"
	"github.com/narahir/RetroDiffusionApp/pkg/queue"
)

// imageExporter is the outbound copy of a finished image; implemented by
// exporter.Exporter.
type imageExporter interface {
	Export(ctx context.Context, img models.LibraryImage, data []byte, done func(error))
}

type Service struct {
	cfg       *config.Config
	e         *echo.Echo
	Library   *library.Client
	Queue     *queue.GenerationQueue
	inference *inference.Client
	exporter  imageExporter
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		e:   echo.New(),
		cfg: cfg}
}

func (s *Service) StartService() error {
	apiKey := s.cfg.ResolveAPIKey()
	if apiKey == "" {
		return errors.New("no API key found: set RETRO_API_KEY or api.key in the config file")
	}

	//library store init
	dB, err := sqlx.Open("sqlite", filepath.Join(s.cfg.Library.Path, "library.sqlite"))
	if err != nil {
		return fmt.Errorf("failed to open library database: %v", err)
	}
	store, err := db.NewLibraryDatabase(true, dB, s.cfg.Library.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize library database: %v", err)
	}
	log.Println("library database ready")

	imageCache, err := cache.NewImageCache(s.cfg.Library.CacheSize)
	if err != nil {
		return fmt.Errorf("failed to initialize image cache: %v", err)
	}
	s.Library = library.NewClient(store, imageCache, s.cfg.Library.PageSize)
	if err := s.Library.LoadInitial(); err != nil {
		return fmt.Errorf("failed to load library: %v", err)
	}

	//events publisher init (optional)
	var publisher queue.EventPublisher
	if s.cfg.RabbitMQ.Host != "" {
		p, err := events.NewPublisher(fmt.Sprintf("amqp://%s:%s@%s:%d/",
			s.cfg.RabbitMQ.Username, s.cfg.RabbitMQ.Password, s.cfg.RabbitMQ.Host, s.cfg.RabbitMQ.Port), s.cfg.RabbitMQ.Queue)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %v", err)
		}
		log.Println("connected to RabbitMQ")
		publisher = p
	}

	//exporter init (optional)
	if s.cfg.Minio.Endpoint != "" {
		s.exporter, err = exporter.New(exporter.Config{
			Endpoint:  s.cfg.Minio.Endpoint,
			AccessKey: s.cfg.Minio.AccessKey,
			SecretKey: s.cfg.Minio.SecretKey,
			Bucket:    s.cfg.Minio.Bucket,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize exporter: %v", err)
		}
		log.Println("connected to object storage")
	}

	s.inference = inference.NewClient(s.cfg.API.BaseURL, apiKey)
	s.Queue = queue.NewGenerationQueue(s.inference, s.Library, publisher)

	//setting up echo server with middleware
	s.e.Use(middleware.Logger())
	s.e.Use(middleware.Recover())

	v1 := s.e.Group("/api/v1")
	v1.POST("/generate", s.EnqueueGenerate)
	v1.POST("/generate/cost", s.GenerateCost)
	v1.POST("/pixelate", s.EnqueuePixelate)
	v1.POST("/pixelate/cost", s.PixelateCost)
	v1.GET("/tasks", s.ListTasks)
	v1.GET("/tasks/:id", s.GetTask)
	v1.DELETE("/tasks/:id", s.RemoveTask)
	v1.GET("/library", s.ListLibrary)
	v1.GET("/library/:id/image", s.GetLibraryImage)
	v1.DELETE("/library/:id", s.DeleteLibraryImage)
	v1.POST("/library/:id/export", s.ExportLibraryImage)
	v1.GET("/credits", s.GetCredits)

	if err := s.e.Start(s.cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %v", err)
	}

	return nil
}

type generateRequest struct {
	Prompt string `json:"prompt" form:"prompt"`
	Model  string `json:"model" form:"model"`
	Width  int    `json:"width" form:"width"`
	Height int    `json:"height" form:"height"`
}

func (s *Service) EnqueueGenerate(c echo.Context) error {
	req := &generateRequest{}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, err)
	}

	id := s.Queue.EnqueueGenerate(req.Prompt, req.Model, clampSize(req.Width), clampSize(req.Height))
	return c.JSON(http.StatusAccepted, map[string]string{"id": id})
}

func (s *Service) EnqueuePixelate(c echo.Context) error {
	imageData, err := extractImageFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}

	id := s.Queue.EnqueuePixelate(imageData)
	return c.JSON(http.StatusAccepted, map[string]string{"id": id})
}

func (s *Service) GenerateCost(c echo.Context) error {
	req := &generateRequest{}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, err)
	}

	cost, err := s.inference.GenerateCost(c.Request().Context(), req.Prompt, req.Model, clampSize(req.Width), clampSize(req.Height))
	if err != nil {
		return c.JSON(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]float64{"cost": cost})
}

func (s *Service) PixelateCost(c echo.Context) error {
	imageData, err := extractImageFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}

	cost, err := s.inference.PixelateCost(c.Request().Context(), imageData)
	if err != nil {
		return c.JSON(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]float64{"cost": cost})
}

func (s *Service) ListTasks(c echo.Context) error {
	switch models.TaskStatus(c.QueryParam("status")) {
	case models.TaskPending:
		return c.JSON(http.StatusOK, s.Queue.PendingTasks())
	case models.TaskInProgress:
		return c.JSON(http.StatusOK, s.Queue.InProgressTasks())
	case models.TaskCompleted:
		return c.JSON(http.StatusOK, s.Queue.CompletedTasks())
	case models.TaskFailed:
		return c.JSON(http.StatusOK, s.Queue.FailedTasks())
	case "":
		return c.JSON(http.StatusOK, s.Queue.Tasks())
	default:
		return c.JSON(http.StatusBadRequest, "invalid status value")
	}
}

func (s *Service) GetTask(c echo.Context) error {
	task, ok := s.Queue.Task(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, task)
}

// RemoveTask cancels a pending task or dismisses a finished one. In-progress
// tasks cannot be aborted.
func (s *Service) RemoveTask(c echo.Context) error {
	id := c.Param("id")
	task, ok := s.Queue.Task(id)
	if !ok {
		return c.JSON(http.StatusNotFound, "task not found")
	}

	switch {
	case task.Status == models.TaskPending:
		s.Queue.Cancel(id)
	case task.IsTerminal():
		s.Queue.Dismiss(id)
	default:
		return c.JSON(http.StatusConflict, "task cannot be removed while in progress")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) ListLibrary(c echo.Context) error {
	if c.QueryParam("page") == "next" {
		if err := s.Library.LoadNextPage(); err != nil {
			return c.JSON(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"images":   s.Library.Images(),
		"has_more": s.Library.HasMore(),
	})
}

func (s *Service) GetLibraryImage(c echo.Context) error {
	img, ok := s.Library.Find(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, "image not found")
	}

	data := s.Library.LoadImage(img)
	if data == nil {
		return c.JSON(http.StatusNotFound, "image file is missing")
	}
	return c.Blob(http.StatusOK, "image/png", data)
}

func (s *Service) DeleteLibraryImage(c echo.Context) error {
	img, ok := s.Library.Find(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, "image not found")
	}

	if err := s.Library.Delete(img); err != nil {
		return c.JSON(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) ExportLibraryImage(c echo.Context) error {
	if s.exporter == nil {
		return c.JSON(http.StatusServiceUnavailable, "export is not configured")
	}

	img, ok := s.Library.Find(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, "image not found")
	}

	data := s.Library.LoadImage(img)
	if data == nil {
		return c.JSON(http.StatusNotFound, "image file is missing")
	}

	// The upload outlives the request; echo cancels the request context as
	// soon as the handler returns the 202.
	s.exporter.Export(context.WithoutCancel(c.Request().Context()), img, data, func(err error) {
		if err == nil {
			log.Printf("exported image %s", img.ID)
		}
	})
	return c.NoContent(http.StatusAccepted)
}

func (s *Service) GetCredits(c echo.Context) error {
	credits, err := s.inference.CheckCredits(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"credits": credits})
}

func extractImageFromRequest(c echo.Context) ([]byte, error) {
	c.Request().ParseMultipartForm(10 << 20) //max 10MB file size
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	file, exists := form.File["image"]
	if !exists || len(file) == 0 {
		return nil, fmt.Errorf("image file not found in the req")
	}

	src, err := file[0].Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return io.ReadAll(src)
}

// clampSize keeps requested dimensions inside the API's documented bounds.
func clampSize(v int) int {
	if v == 0 {
		return models.MaxEditSize
	}
	if v < models.MinImageSize {
		return models.MinImageSize
	}
	if v > models.MaxImageSize {
		return models.MaxImageSize
	}
	return v
}
