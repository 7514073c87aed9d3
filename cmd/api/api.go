package api

import (
	"log"
	"net/http"
	"os"

	"github.com/adjei-dev/drivetrack-server/cmd/utils"
	"github.com/adjei-dev/drivetrack-server/service/appointment"
	"github.com/adjei-dev/drivetrack-server/service/availability"
	"github.com/adjei-dev/drivetrack-server/service/file"
	"github.com/adjei-dev/drivetrack-server/service/scheduling"
	"github.com/adjei-dev/drivetrack-server/service/sessionform"
	"github.com/adjei-dev/drivetrack-server/service/stats"
	"github.com/adjei-dev/drivetrack-server/service/user"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	userHandler := user.NewHandler(s.db)
	userHandler.RegisterPublicRoutes(subrouter)

	protected := subrouter.NewRoute().Subrouter()
	protected.Use(utils.AuthMiddleware)

	userHandler.RegisterRoutes(protected)

	// One locker shared by every handler that books or seals a resource.
	locker := scheduling.NewResourceLocker()

	availabilityHandler := availability.NewAvailabilityHandler(s.db, locker)
	availabilityHandler.RegisterRoutes(protected)

	appointmentHandler := appointment.NewAppointmentHandler(s.db, locker)
	appointmentHandler.RegisterRoutes(protected)

	sessionFormHandler := sessionform.NewSessionFormHandler(s.db, locker)
	sessionFormHandler.RegisterRoutes(protected)

	statsHandler := stats.NewStatsHandler(s.db)
	statsHandler.RegisterRoutes(protected)

	fileHandler := file.NewFileHandler(s.db)
	fileHandler.RegisterRoutes(protected)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, handlers.LoggingHandler(os.Stdout, cors(router)))
}
