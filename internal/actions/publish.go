package actions

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/kingrea/shipyard/internal/pipeline"
)

// Uploader stores a local file under key and returns its URL.
// *objectstore.Store satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key, localPath, contentType string) (string, error)
}

// Publisher uploads the trailer when there is one and then runs the
// announcement command with {video_url} set. Without a trailer only the
// command runs.
type Publisher struct {
	Uploader Uploader
	Command  *Command
	Logger   zerolog.Logger
}

// TrailerKey is the object key for a trailer: <slug>/<basename>.
func TrailerKey(slug, videoPath string) string {
	return slug + "/" + filepath.Base(videoPath)
}

// Publish implements pipeline.Publisher. It returns the video URL when one
// was uploaded, otherwise the deploy URL.
func (p *Publisher) Publish(ctx context.Context, rel pipeline.Release) (string, error) {
	location := rel.DeployURL
	videoURL := ""
	if rel.Trailer != nil && rel.Trailer.VideoPath != "" && p.Uploader != nil {
		key := TrailerKey(rel.Feature.Slug, rel.Trailer.VideoPath)
		url, err := p.Uploader.Upload(ctx, key, rel.Trailer.VideoPath, "")
		if err != nil {
			return "", fmt.Errorf("actions: publish trailer: %w", err)
		}
		p.Logger.Info().Str("slug", rel.Feature.Slug).Str("url", url).Msg("trailer uploaded")
		videoURL = url
		location = url
	}
	if _, err := p.Command.run(ctx, releaseVars(rel, videoURL)); err != nil {
		return "", err
	}
	return location, nil
}
