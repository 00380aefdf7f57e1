package api

import (
	"context"
	"net/http"
	"time"

	"github.com/RMahshie/aurelius/internal/api/handlers"
	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Version is reported by the health endpoint and the OpenAPI document.
const Version = "1.0.0"

// NewRouter builds the control API: chi middleware, CORS and the huma
// operations for the given session.
func NewRouter(session handlers.Session, repo repository.CalibrationRepository, allowedOrigins []string) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(zerologLogger())
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	config := huma.DefaultConfig("Aurelius API", Version)
	config.DocsPath = "/api/docs"
	api := humachi.New(router, config)

	RegisterRoutes(api, session, repo)
	return router
}

// RegisterRoutes sets up all API routes
func RegisterRoutes(api huma.API, session handlers.Session, repo repository.CalibrationRepository) {
	sessionHandler := handlers.NewSessionHandler(session, repo)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service",
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		resp := &models.HealthResponse{}
		resp.Body.Status = "healthy"
		resp.Body.Version = Version
		resp.Body.Time = time.Now()
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getDiagnostics",
		Method:      http.MethodGet,
		Path:        "/api/session/diagnostics",
		Summary:     "Get session diagnostics",
		Description: "Returns frame, drop and safety counters of the running correction session",
		Tags:        []string{"Session"},
	}, sessionHandler.GetDiagnostics)

	huma.Register(api, huma.Operation{
		OperationID: "getProfile",
		Method:      http.MethodGet,
		Path:        "/api/profile",
		Summary:     "Get active profile",
		Description: "Returns the hearing profile the correction session is applying",
		Tags:        []string{"Profile"},
	}, sessionHandler.GetProfile)

	huma.Register(api, huma.Operation{
		OperationID: "getProfileCurve",
		Method:      http.MethodGet,
		Path:        "/api/profile/curve",
		Summary:     "Get gain curve",
		Description: "Samples the active profile's gain at log-spaced frequencies",
		Tags:        []string{"Profile"},
	}, sessionHandler.GetProfileCurve)

	huma.Register(api, huma.Operation{
		OperationID: "installProfile",
		Method:      http.MethodPut,
		Path:        "/api/profile",
		Summary:     "Install profile",
		Description: "Validates a profile and swaps it into the running session at the next frame boundary",
		Tags:        []string{"Profile"},
	}, sessionHandler.InstallProfile)

	huma.Register(api, huma.Operation{
		OperationID: "listProfiles",
		Method:      http.MethodGet,
		Path:        "/api/profiles",
		Summary:     "List profiles",
		Description: "Returns stored calibration profiles, newest first",
		Tags:        []string{"Profile"},
	}, sessionHandler.ListProfiles)

	huma.Register(api, huma.Operation{
		OperationID: "getStoredProfile",
		Method:      http.MethodGet,
		Path:        "/api/profiles/{id}",
		Summary:     "Get stored profile",
		Description: "Returns one profile from the calibration history",
		Tags:        []string{"Profile"},
	}, sessionHandler.GetStoredProfile)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}",
		Summary:     "Get calibration session",
		Description: "Returns the status and progress of a calibration session",
		Tags:        []string{"Calibration"},
	}, sessionHandler.GetSession)
}
