package graph

import "strconv"

// builder assembles a Graph, allocating sequential node ids. Each helper
// returns Refs for the operation's fixed output slots, in slot order.
type builder struct {
	g    Graph
	next int
}

func newBuilder() *builder {
	return &builder{g: Graph{}, next: 1}
}

func (b *builder) add(classType string, inputs map[string]any) string {
	id := strconv.Itoa(b.next)
	b.next++
	b.g[id] = Node{ClassType: classType, Inputs: inputs}
	return id
}

// checkpointLoader loads a combined checkpoint. Outputs: model 0, clip 1, vae 2.
func (b *builder) checkpointLoader(name string) (model, clip, vae Ref) {
	id := b.add(classCheckpointLoader, map[string]any{
		"ckpt_name": name,
	})
	return Ref{id, 0}, Ref{id, 1}, Ref{id, 2}
}

// unetLoader loads standalone diffusion weights. Outputs: model 0.
func (b *builder) unetLoader(name string) Ref {
	id := b.add(classUNETLoader, map[string]any{
		"unet_name":    name,
		"weight_dtype": "default",
	})
	return Ref{id, 0}
}

// clipLoader loads a standalone text encoder. Outputs: clip 0.
func (b *builder) clipLoader(name, clipType string) Ref {
	id := b.add(classCLIPLoader, map[string]any{
		"clip_name": name,
		"type":      clipType,
	})
	return Ref{id, 0}
}

// vaeLoader loads a standalone VAE. Outputs: vae 0.
func (b *builder) vaeLoader(name string) Ref {
	id := b.add(classVAELoader, map[string]any{
		"vae_name": name,
	})
	return Ref{id, 0}
}

// textEncode produces conditioning from prompt text. Outputs: conditioning 0.
func (b *builder) textEncode(clip Ref, text string) Ref {
	id := b.add(classCLIPTextEncode, map[string]any{
		"clip": clip,
		"text": text,
	})
	return Ref{id, 0}
}

// emptyLatent produces a blank latent image. Outputs: latent 0.
func (b *builder) emptyLatent(width, height, batchSize int) Ref {
	id := b.add(classEmptyLatent, map[string]any{
		"width":      width,
		"height":     height,
		"batch_size": batchSize,
	})
	return Ref{id, 0}
}

// emptyLatentVideo produces a blank video latent. Outputs: latent 0.
func (b *builder) emptyLatentVideo(width, height, length, batchSize int) Ref {
	id := b.add(classEmptyLatentVideo, map[string]any{
		"width":      width,
		"height":     height,
		"length":     length,
		"batch_size": batchSize,
	})
	return Ref{id, 0}
}

// loadImage reads an uploaded input. Outputs: image 0, mask 1.
func (b *builder) loadImage(filename string) (image, mask Ref) {
	id := b.add(classLoadImage, map[string]any{
		"image": filename,
	})
	return Ref{id, 0}, Ref{id, 1}
}

// imageScale resizes an image. Outputs: image 0.
func (b *builder) imageScale(image Ref, width, height int) Ref {
	id := b.add(classImageScale, map[string]any{
		"image":         image,
		"width":         width,
		"height":        height,
		"upscale_method": "nearest-exact",
		"crop":          "disabled",
	})
	return Ref{id, 0}
}

// vaeEncode encodes pixels into latent space. Outputs: latent 0.
func (b *builder) vaeEncode(image, vae Ref) Ref {
	id := b.add(classVAEEncode, map[string]any{
		"pixels": image,
		"vae":    vae,
	})
	return Ref{id, 0}
}

// vaeEncodeInpaint encodes pixels plus a mask for inpainting. Outputs: latent 0.
func (b *builder) vaeEncodeInpaint(image, mask, vae Ref, growMaskBy int) Ref {
	id := b.add(classVAEEncodeInpaint, map[string]any{
		"pixels":       image,
		"mask":         mask,
		"vae":          vae,
		"grow_mask_by": growMaskBy,
	})
	return Ref{id, 0}
}

// padForOutpaint extends the canvas around an image. Outputs: image 0, mask 1.
func (b *builder) padForOutpaint(image Ref, pad, feathering int) (img, mask Ref) {
	id := b.add(classPadForOutpaint, map[string]any{
		"image":     image,
		"left":      pad,
		"top":       pad,
		"right":     pad,
		"bottom":    pad,
		"feathering": feathering,
	})
	return Ref{id, 0}, Ref{id, 1}
}

// samplerParams collects the literal inputs of a sampler node.
type samplerParams struct {
	Seed        int64
	Steps       int
	CFGScale    float64
	SamplerName string
	Scheduler   string
	Denoise     float64
}

// sampler runs the diffusion loop. Outputs: latent 0.
func (b *builder) sampler(model, positive, negative, latent Ref, p samplerParams) Ref {
	id := b.add(classKSampler, map[string]any{
		"model":        model,
		"positive":     positive,
		"negative":     negative,
		"latent_image": latent,
		"seed":         p.Seed,
		"steps":        p.Steps,
		"cfg":          p.CFGScale,
		"sampler_name": p.SamplerName,
		"scheduler":    p.Scheduler,
		"denoise":      p.Denoise,
	})
	return Ref{id, 0}
}

// vaeDecode decodes a latent back into pixels. Outputs: image 0.
func (b *builder) vaeDecode(latent, vae Ref) Ref {
	id := b.add(classVAEDecode, map[string]any{
		"samples": latent,
		"vae":     vae,
	})
	return Ref{id, 0}
}

// saveImage is a terminal output node.
func (b *builder) saveImage(image Ref, prefix string) {
	b.add(classSaveImage, map[string]any{
		"images":          image,
		"filename_prefix": prefix,
	})
}

// saveAnimatedWEBP is a terminal video output node.
func (b *builder) saveAnimatedWEBP(image Ref, prefix string, fps float64) {
	b.add(classSaveAnimatedWEBP, map[string]any{
		"images":          image,
		"filename_prefix": prefix,
		"fps":             fps,
		"lossless":        false,
		"quality":         90,
		"method":          "default",
	})
}

// wanImageToVideo conditions a video latent on a start image.
// Outputs: positive 0, negative 1, latent 2.
func (b *builder) wanImageToVideo(positive, negative, vae, startImage Ref, width, height, length, batchSize int) (pos, neg, latent Ref) {
	id := b.add(classWanImageToVideo, map[string]any{
		"positive":    positive,
		"negative":    negative,
		"vae":         vae,
		"start_image": startImage,
		"width":       width,
		"height":      height,
		"length":      length,
		"batch_size":  batchSize,
	})
	return Ref{id, 0}, Ref{id, 1}, Ref{id, 2}
}
