package explore

import (
	"github.com/gin-gonic/gin"

	"github.com/oggyb/tubematch/internal/app"
)

// Registrar ties the Explore service into the HTTP server
type Registrar struct {
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the Explore service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx}
}

// RegisterRoutes attaches the Explore handlers to the router group
func (r *Registrar) RegisterRoutes(rg gin.IRouter) {
	service := NewExploreService(r.appCtx)
	service.RegisterRoutes(rg)
}
