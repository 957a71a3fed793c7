package controller

import (
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/infra"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
)

type Controller struct {
	Config     *config.Config
	Infra      *infra.Infra
	Repository *repository.Repository
	Pipeline   *pipeline.Pipeline
}

func NewController(cfg *config.Config, infra *infra.Infra, repo *repository.Repository, p *pipeline.Pipeline) *Controller {
	return &Controller{
		Config:     cfg,
		Infra:      infra,
		Repository: repo,
		Pipeline:   p,
	}
}
