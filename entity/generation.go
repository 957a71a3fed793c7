package entity

// AudioRequest is what the speech synthesis collaborator receives for one job.
type AudioRequest struct {
	Text       string
	Prompt     []byte // optional voice prompt
	PromptName string
	SampleRate int
}

// VideoParams are the tunable lip-sync inference settings. Zero values mean "use the default".
type VideoParams struct {
	UnetConfigPath string  `json:"unet_config_path,omitempty"`
	CheckpointPath string  `json:"inference_ckpt_path,omitempty"`
	InferenceSteps int     `json:"inference_steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
}

// WithDefaults fills unset fields from defaults.
func (p VideoParams) WithDefaults(defaults VideoParams) VideoParams {
	if p.UnetConfigPath == "" {
		p.UnetConfigPath = defaults.UnetConfigPath
	}
	if p.CheckpointPath == "" {
		p.CheckpointPath = defaults.CheckpointPath
	}
	if p.InferenceSteps <= 0 {
		p.InferenceSteps = defaults.InferenceSteps
	}
	if p.GuidanceScale <= 0 {
		p.GuidanceScale = defaults.GuidanceScale
	}
	return p
}

// VideoRequest describes one lip-sync run over local files inside a job workspace.
type VideoRequest struct {
	AudioPath  string
	VideoPath  string // empty when the job has no reference video
	OutputPath string
	Params     VideoParams
}
