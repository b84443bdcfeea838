package graph

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Request carries the validated parameters of a structured generation job.
// Zero values mean "use the documented default for this job type".
type Request struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           *int64  `json:"seed"`
	Denoise        float64 `json:"denoise"`
	SamplerName    string  `json:"sampler_name"`
	Scheduler      string  `json:"scheduler"`
	BatchSize      int     `json:"batch_size"`
	Model          string  `json:"model"`
	ImageFilename  string  `json:"image_filename"`
	MaskFilename   string  `json:"mask_filename"`
	ScaleFactor    float64 `json:"scale_factor"`
	Length         int     `json:"length"`
	FPS            float64 `json:"fps"`
}

// Documented parameter defaults.
const (
	DefaultWidth       = 512
	DefaultHeight      = 512
	DefaultVideoWidth  = 832
	DefaultVideoHeight = 480
	DefaultSteps       = 20
	DefaultVideoSteps  = 30
	DefaultCFG         = 7.0
	DefaultVideoCFG    = 6.0
	DefaultSampler     = "euler"
	DefaultScheduler   = "normal"
	DefaultScale       = 2.0
	DefaultVideoLength = 33
	DefaultFPS         = 16.0

	DefaultImageModel   = "sd_xl_base_1.0.safetensors"
	DefaultTxt2VidModel = "wan2.1_t2v_1.3B_fp16.safetensors"
	DefaultImg2VidModel = "wan2.1_i2v_480p_14B_fp16.safetensors"

	videoCLIPModel = "umt5_xxl_fp8_e4m3fn_scaled.safetensors"
	videoVAEModel  = "wan_2.1_vae.safetensors"

	inpaintMaskGrowth  = 6
	outpaintPadding    = 128
	outpaintFeathering = 40

	outputPrefix = "artforge"

	// SeedSentinel requests a fresh pseudo-random seed.
	SeedSentinel = -1
	seedRange    = 1_000_000_000
)

// Denoise strength defaults per job type.
var denoiseDefaults = map[string]float64{
	TypeTxt2Img:  1.0,
	TypeImg2Img:  0.75,
	TypeUpscale:  0.35,
	TypeInpaint:  0.9,
	TypeOutpaint: 0.9,
	TypeTxt2Vid:  1.0,
	TypeImg2Vid:  1.0,
}

// ResolveSeed applies the seed sentinel contract: SeedSentinel picks a fresh
// pseudo-random seed in [0, seedRange); any other value is used verbatim.
func ResolveSeed(seed *int64) int64 {
	if seed == nil || *seed == SeedSentinel {
		return rand.Int64N(seedRange)
	}
	return *seed
}

// Compile builds the execution graph for a structured job type. Structural
// requirements (source image, mask) are validated here, before submission.
func Compile(jobType string, req Request) (Graph, error) {
	switch jobType {
	case TypeTxt2Img, TypeImg2Img, TypeInpaint, TypeOutpaint, TypeUpscale:
		return compileImage(jobType, req)
	case TypeTxt2Vid, TypeImg2Vid:
		return compileVideo(jobType, req)
	default:
		return nil, fmt.Errorf("unsupported job type %q", jobType)
	}
}

func compileImage(jobType string, req Request) (Graph, error) {
	applyImageDefaults(&req)

	if err := checkStructuralInputs(jobType, req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = DefaultImageModel
	}

	b := newBuilder()
	modelRef, clip, vae := b.checkpointLoader(model)
	positive := b.textEncode(clip, req.Prompt)
	negative := b.textEncode(clip, req.NegativePrompt)

	latent, err := imageLatent(b, jobType, req, vae)
	if err != nil {
		return nil, err
	}

	sampled := b.sampler(modelRef, positive, negative, latent, samplerParams{
		Seed:        ResolveSeed(req.Seed),
		Steps:       req.Steps,
		CFGScale:    req.CFGScale,
		SamplerName: req.SamplerName,
		Scheduler:   req.Scheduler,
		Denoise:     denoiseFor(jobType, req.Denoise),
	})

	image := b.vaeDecode(sampled, vae)
	b.saveImage(image, outputPrefix)

	return b.g, nil
}

// imageLatent builds the latent source for an image pipeline. This is the
// part that varies by job type; everything around it is shared.
func imageLatent(b *builder, jobType string, req Request, vae Ref) (Ref, error) {
	switch jobType {
	case TypeTxt2Img:
		return b.emptyLatent(req.Width, req.Height, req.BatchSize), nil

	case TypeImg2Img:
		image, _ := b.loadImage(req.ImageFilename)
		return b.vaeEncode(image, vae), nil

	case TypeUpscale:
		factor := req.ScaleFactor
		if factor <= 0 {
			factor = DefaultScale
		}
		image, _ := b.loadImage(req.ImageFilename)
		scaled := b.imageScale(image, int(float64(req.Width)*factor), int(float64(req.Height)*factor))
		return b.vaeEncode(scaled, vae), nil

	case TypeInpaint:
		image, _ := b.loadImage(req.ImageFilename)
		_, mask := b.loadImage(req.MaskFilename)
		return b.vaeEncodeInpaint(image, mask, vae, inpaintMaskGrowth), nil

	case TypeOutpaint:
		image, _ := b.loadImage(req.ImageFilename)
		padded, mask := b.padForOutpaint(image, outpaintPadding, outpaintFeathering)
		return b.vaeEncodeInpaint(padded, mask, vae, inpaintMaskGrowth), nil
	}

	return Ref{}, fmt.Errorf("no latent source for job type %q", jobType)
}

func compileVideo(jobType string, req Request) (Graph, error) {
	applyVideoDefaults(&req)

	if err := checkStructuralInputs(jobType, req); err != nil {
		return nil, err
	}

	b := newBuilder()
	modelRef := b.unetLoader(resolveVideoModel(jobType, req.Model))
	clip := b.clipLoader(videoCLIPModel, "wan")
	vae := b.vaeLoader(videoVAEModel)

	positive := b.textEncode(clip, req.Prompt)
	negative := b.textEncode(clip, req.NegativePrompt)

	var latent Ref
	if jobType == TypeImg2Vid {
		image, _ := b.loadImage(req.ImageFilename)
		positive, negative, latent = b.wanImageToVideo(positive, negative, vae, image,
			req.Width, req.Height, req.Length, req.BatchSize)
	} else {
		latent = b.emptyLatentVideo(req.Width, req.Height, req.Length, req.BatchSize)
	}

	sampled := b.sampler(modelRef, positive, negative, latent, samplerParams{
		Seed:        ResolveSeed(req.Seed),
		Steps:       req.Steps,
		CFGScale:    req.CFGScale,
		SamplerName: req.SamplerName,
		Scheduler:   req.Scheduler,
		Denoise:     denoiseFor(jobType, req.Denoise),
	})

	image := b.vaeDecode(sampled, vae)
	b.saveAnimatedWEBP(image, outputPrefix, req.FPS)

	return b.g, nil
}

// resolveVideoModel forces a video-capable model: anything outside the wan
// family is replaced with the fixed default for the requested direction.
func resolveVideoModel(jobType, model string) string {
	if strings.Contains(strings.ToLower(model), "wan") {
		return model
	}
	if jobType == TypeImg2Vid {
		return DefaultImg2VidModel
	}
	return DefaultTxt2VidModel
}

// checkStructuralInputs rejects requests missing a required upload reference.
func checkStructuralInputs(jobType string, req Request) error {
	switch jobType {
	case TypeImg2Img, TypeUpscale, TypeOutpaint:
		if req.ImageFilename == "" {
			return fmt.Errorf("%s requires a source image", jobType)
		}
	case TypeInpaint:
		if req.ImageFilename == "" || req.MaskFilename == "" {
			return fmt.Errorf("inpaint requires both a source image and a mask")
		}
	case TypeImg2Vid:
		if req.ImageFilename == "" {
			return fmt.Errorf("img2vid requires a source image")
		}
	}
	return nil
}

func denoiseFor(jobType string, explicit float64) float64 {
	if explicit > 0 {
		return explicit
	}
	return denoiseDefaults[jobType]
}

func applyImageDefaults(req *Request) {
	if req.Width <= 0 {
		req.Width = DefaultWidth
	}
	if req.Height <= 0 {
		req.Height = DefaultHeight
	}
	if req.Steps <= 0 {
		req.Steps = DefaultSteps
	}
	if req.CFGScale <= 0 {
		req.CFGScale = DefaultCFG
	}
	applyCommonDefaults(req)
}

func applyVideoDefaults(req *Request) {
	if req.Width <= 0 {
		req.Width = DefaultVideoWidth
	}
	if req.Height <= 0 {
		req.Height = DefaultVideoHeight
	}
	if req.Steps <= 0 {
		req.Steps = DefaultVideoSteps
	}
	if req.CFGScale <= 0 {
		req.CFGScale = DefaultVideoCFG
	}
	if req.Length <= 0 {
		req.Length = DefaultVideoLength
	}
	if req.FPS <= 0 {
		req.FPS = DefaultFPS
	}
	applyCommonDefaults(req)
}

func applyCommonDefaults(req *Request) {
	if req.SamplerName == "" {
		req.SamplerName = DefaultSampler
	}
	if req.Scheduler == "" {
		req.Scheduler = DefaultScheduler
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 1
	}
}
