package worker

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/artforge/artforge-be/internal/comfy"
	"github.com/artforge/artforge-be/internal/worker/domain"
)

// videoExtensions marks files that are video output even when the engine
// reports them under an images field.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".gif":  true,
	".webp": true,
}

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// contentTypeFor resolves the MIME type from the file extension, falling
// back to video/mp4 for video outputs with an unlisted extension.
func contentTypeFor(filename, mediaType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if mediaType == domain.MediaTypeVideo {
		return "video/mp4"
	}
	return "application/octet-stream"
}

type harvestedRef struct {
	ref       comfy.ArtifactRef
	mediaType string
}

// classifyOutputs flattens the per-node output bundles into a single list,
// videos first so the primary asset of a video job is the video itself and
// not a preview frame.
func classifyOutputs(exec *comfy.Execution) []harvestedRef {
	var videos, images []harvestedRef

	for _, bundle := range exec.Outputs {
		for _, ref := range bundle.Videos {
			videos = append(videos, harvestedRef{ref: ref, mediaType: domain.MediaTypeVideo})
		}
		for _, ref := range bundle.Gifs {
			videos = append(videos, harvestedRef{ref: ref, mediaType: domain.MediaTypeVideo})
		}
		for _, ref := range bundle.Filenames {
			videos = append(videos, harvestedRef{ref: ref, mediaType: domain.MediaTypeVideo})
		}
		for _, ref := range bundle.Images {
			ext := strings.ToLower(path.Ext(ref.Filename))
			if videoExtensions[ext] {
				// Video nodes report their files under an images field
				videos = append(videos, harvestedRef{ref: ref, mediaType: domain.MediaTypeVideo})
				continue
			}
			// Temp previews are not output
			if ref.Type != "output" {
				continue
			}
			images = append(images, harvestedRef{ref: ref, mediaType: domain.MediaTypeImage})
		}
	}

	return append(videos, images...)
}

// harvestOutputs downloads every produced artifact and stores it. Per-file
// failures are logged and skipped so one bad artifact does not lose the
// rest of the batch.
func (w *Worker) harvestOutputs(ctx context.Context, job *domain.Job, params *jobParams, exec *comfy.Execution) ([]*domain.Asset, error) {
	refs := classifyOutputs(exec)

	var stored []*domain.Asset
	for _, h := range refs {
		data, err := w.engine.FetchArtifact(ctx, h.ref.Filename, h.ref.Subfolder, h.ref.Type)
		if err != nil {
			w.logger.Warn("Failed to fetch artifact",
				slog.String("job_id", job.JobID),
				slog.String("filename", h.ref.Filename),
				slog.String("error", err.Error()),
			)
			continue
		}

		key := path.Join(job.UserID, job.JobID, h.ref.Filename)
		contentType := contentTypeFor(h.ref.Filename, h.mediaType)

		url, err := w.blobs.Put(ctx, key, data, contentType)
		if err != nil {
			w.logger.Warn("Failed to store artifact",
				slog.String("job_id", job.JobID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}

		stored = append(stored, &domain.Asset{
			AssetID:    uuid.New().String(),
			UserID:     job.UserID,
			JobID:      job.JobID,
			MediaType:  h.mediaType,
			StorageKey: key,
			PublicURL:  url,
			Width:      params.Width,
			Height:     params.Height,
			Params:     job.Params,
			Prompt:     params.Prompt,
		})
	}

	return stored, nil
}
