package middlewares

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-lipsync-orchestrator/http/controller"
)

type Middlewares struct {
	CORSMiddleware         gin.HandlerFunc
	AuthMiddleware         gin.HandlerFunc
	InternalAuthMiddleware gin.HandlerFunc
}

func NewMiddlewares(ctrl *controller.Controller) (*Middlewares, error) {
	cfg := ctrl.Config.EnvConfig
	if cfg.InternalAuth.PrivateKey == "" {
		ctrl.Infra.Logger.WarningWithContextf(context.Background(), "[Middleware] PRIVATE_KEY is not set, internal stage triggers are unauthenticated")
	}

	return &Middlewares{
		CORSMiddleware:         CORSMiddleware(cfg),
		AuthMiddleware:         AuthMiddleware(cfg),
		InternalAuthMiddleware: InternalAuthMiddleware(cfg),
	}, nil
}
