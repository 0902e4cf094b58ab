package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"svtdl/internal/config"
	"svtdl/internal/download"
	"svtdl/internal/httpclient"
	"svtdl/internal/logger"
	"svtdl/internal/manifest"
	"svtdl/internal/metrics"
	"svtdl/internal/mux"
	"svtdl/internal/progress"
	"svtdl/internal/stream"
)

// app wires the download pipeline for one invocation.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	client  *httpclient.Client
	loader  *manifest.Loader
	muxer   *mux.Muxer
	tracker *progress.Tracker
	metrics *metrics.Metrics
}

func newApp(cfg *config.Config, log logger.Logger, m *metrics.Metrics, muxOpts ...mux.Option) *app {
	client := httpclient.New(
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithRateLimit(cfg.RateLimit, cfg.Workers),
		httpclient.WithLogger(log),
	)
	muxOpts = append([]mux.Option{mux.WithFFmpeg(cfg.FFmpeg), mux.WithLogger(log)}, muxOpts...)
	return &app{
		cfg:     cfg,
		log:     log,
		client:  client,
		loader:  manifest.NewLoader(client, log),
		muxer:   mux.New(muxOpts...),
		tracker: progress.New(log, progress.DefaultInterval),
		metrics: m,
	}
}

// load fetches every manifest and merges their streams in argument order.
func (a *app) load(ctx context.Context, manifestURLs []string) ([]*manifest.Manifest, *stream.Collection, error) {
	manifests, err := a.loader.LoadAll(ctx, manifestURLs)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range manifests {
		if m.Duration > 0 {
			a.log.Infof("Loaded %s manifest %s, duration %s", m.Format, m.URL.Redacted(), m.Duration)
		} else {
			a.log.Infof("Loaded %s manifest %s", m.Format, m.URL.Redacted())
		}
	}
	return manifests, manifest.Streams(manifests), nil
}

// listStreams loads the manifests and returns their streams, best video first.
func (a *app) listStreams(ctx context.Context, manifestURLs []string) ([]*stream.Stream, error) {
	_, c, err := a.load(ctx, manifestURLs)
	if err != nil {
		return nil, err
	}
	return slices.Concat(stream.SortVideo(c.Video), c.Audio, c.Subtitle), nil
}

// run downloads the best video and preferred audio across the manifests and
// muxes them into output. An empty output is derived from the first
// manifest's URL.
func (a *app) run(ctx context.Context, manifestURLs []string, output string) (string, error) {
	manifests, c, err := a.load(ctx, manifestURLs)
	if err != nil {
		return "", err
	}

	video := c.BestVideo()
	audio := c.BestAudio(a.cfg.AudioLanguage)
	if video == nil && audio == nil {
		return "", errors.New("manifest has no video or audio streams")
	}

	if output == "" {
		output = filepath.Join(a.cfg.OutputDir, outputName(manifests[0].URL))
	}

	var videoData, audioData []byte
	if video != nil {
		a.log.Infof("Selected video: %s", video)
		if videoData, err = a.fetch(ctx, "video", video); err != nil {
			return "", err
		}
	}
	if audio != nil {
		a.log.Infof("Selected audio: %s", audio)
		if audioData, err = a.fetch(ctx, "audio", audio); err != nil {
			return "", err
		}
	}

	if err := a.muxer.Mux(ctx, output, videoData, audioData); err != nil {
		return "", err
	}
	return output, nil
}

func (a *app) fetch(ctx context.Context, media string, s *stream.Stream) ([]byte, error) {
	d := download.New(a.client,
		download.WithWorkers(a.cfg.Workers),
		download.WithProgress(a.tracker.Callback(media)),
		download.WithLogger(a.log),
		download.WithMetrics(a.metrics),
	)
	data, err := d.Download(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("%s download failed: %w", media, err)
	}
	a.log.Infof("Downloaded %s", a.tracker.Snapshot(media))
	return data, nil
}

var genericNames = map[string]bool{
	"manifest": true, "master": true, "index": true, "playlist": true, "stream": true,
}

// outputName picks a file name from the manifest location: the manifest's
// base name, or its directory's when the base name is generic.
func outputName(u *url.URL) string {
	dir, file := path.Split(strings.TrimSuffix(u.Path, "/"))
	name := strings.TrimSuffix(file, path.Ext(file))
	if genericNames[strings.ToLower(name)] || name == "" {
		if parent := path.Base(strings.TrimSuffix(dir, "/")); parent != "" && parent != "." && parent != "/" {
			name = parent
		}
	}
	if name == "" || name == "/" {
		name = "output"
	}
	return name + ".mp4"
}
