package scheduler

import (
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"github.com/oggyb/tubematch/internal/app"
)

// Registrar ties the Scheduler service into the gRPC and HTTP servers
type Registrar struct {
	svc *Service
}

// NewRegistrar creates a new Registrar for the Scheduler service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{svc: NewFromApp(appCtx)}
}

// Register attaches the Scheduler service implementation to the gRPC server
func (r *Registrar) Register(s *grpc.Server) {
	s.RegisterService(&SchedulerServiceDesc, &grpcServer{svc: r.svc})
}

// RegisterRoutes mounts the Scheduler HTTP routes
func (r *Registrar) RegisterRoutes(rg gin.IRouter) {
	r.svc.RegisterRoutes(rg)
}
