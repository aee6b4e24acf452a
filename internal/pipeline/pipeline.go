package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sublate/internal/config"
	"sublate/internal/language"
	"sublate/internal/logging"
	"sublate/internal/queue"
	"sublate/internal/services/inference"
	"sublate/internal/subtitle"
	"sublate/internal/timesync"
)

// Stage progress weights. Translation covers both the endpoint call and
// synchronization for each target language.
const (
	weightExtract    = 0.10
	weightTranscribe = 0.50
	weightTranslate  = 0.35
	weightFinalize   = 0.05
)

// Pipeline turns a queued task into one synchronized SRT file per target
// language. It satisfies the batch manager's Processor contract.
type Pipeline struct {
	cfg    *config.Config
	client *inference.Client
	sync   *timesync.Synchronizer
	logger *slog.Logger
}

// New builds a pipeline with an inference client derived from cfg.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	client := inference.NewClient(inference.Config{
		BaseURL:        cfg.Inference.BaseURL,
		APIToken:       cfg.Inference.APIToken,
		Timeout:        time.Duration(cfg.Inference.TimeoutSeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.Inference.ConnectTimeoutSecs) * time.Second,
		RetryAttempts:  cfg.Inference.RetryMaxAttempts,
		RetryBaseDelay: time.Duration(cfg.Inference.RetryBaseDelayMS) * time.Millisecond,
		RetryMaxDelay:  time.Duration(cfg.Inference.RetryMaxDelayMS) * time.Millisecond,
		JitterFraction: cfg.Inference.RetryJitterFraction,
	}, inference.WithLogger(logger))
	return NewWithClient(cfg, logger, client)
}

// NewWithClient builds a pipeline around an existing client (used in tests).
func NewWithClient(cfg *config.Config, logger *slog.Logger, client *inference.Client) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		client: client,
		logger: logger,
		sync: &timesync.Synchronizer{
			MinConfidence: cfg.Sync.MinConfidence,
			MinScale:      cfg.Sync.MinScale,
			MaxScale:      cfg.Sync.MaxScale,
		},
	}
}

// ValidateCredential checks that the inference client is usable.
func (p *Pipeline) ValidateCredential(context.Context) error {
	return p.client.ValidateCredential()
}

// Process runs a single task end to end. Intermediate files live in a
// per-task directory under the workspace and are removed on every exit
// path; only the final SRT files land in the output directory.
func (p *Pipeline) Process(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error) {
	logger := p.logger.With(logging.Int64(logging.FieldTaskID, task.ID))

	workDir := filepath.Join(p.cfg.Paths.WorkspaceDir, fmt.Sprintf("task-%d", task.ID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create task workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("cleanup task workspace failed", logging.Error(err))
		}
	}()

	audioPath, err := p.prepareAudio(ctx, logger, task.SourcePath, workDir)
	if err != nil {
		return nil, err
	}
	report(weightExtract)

	originalCues, err := p.client.Transcribe(ctx, audioPath, "")
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	logger.Info("transcription complete",
		logging.Int("cues", len(originalCues)),
		logging.String(logging.FieldStage, "transcribe"),
	)
	report(weightExtract + weightTranscribe)

	if err := os.MkdirAll(p.cfg.Paths.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	results := make([]queue.Result, 0, len(task.TargetLanguages))
	for i, lang := range task.TargetLanguages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := p.produceLanguage(ctx, logger, task, originalCues, lang)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
		report(weightExtract + weightTranscribe + weightTranslate*float64(i+1)/float64(len(task.TargetLanguages)))
	}

	report(1.0)
	return results, nil
}

// prepareAudio returns a path ready for upload: audio sources pass through
// untouched, everything else goes through ffmpeg extraction.
func (p *Pipeline) prepareAudio(ctx context.Context, logger *slog.Logger, source, workDir string) (string, error) {
	if isAudioFile(source) {
		return source, nil
	}
	dest := filepath.Join(workDir, "audio.wav")
	if err := extractAudio(ctx, p.cfg.FFmpegBinary, source, dest); err != nil {
		return "", err
	}
	logger.Info("audio extracted",
		logging.String("audio", dest),
		logging.String(logging.FieldStage, "extract"),
	)
	return dest, nil
}

func (p *Pipeline) produceLanguage(ctx context.Context, logger *slog.Logger, task *queue.Task, originalCues []subtitle.Cue, lang string) (queue.Result, error) {
	translated, err := p.client.Translate(ctx, originalCues, lang)
	if err != nil {
		return queue.Result{}, fmt.Errorf("translate to %s: %w", language.Display(lang), err)
	}

	result := queue.Result{Language: lang}
	final := translated
	if p.cfg.Sync.Enabled {
		synced, stats, syncErr := p.synchronize(originalCues, translated)
		if syncErr != nil {
			// A failed fit is not fatal: ship the translation with the
			// endpoint's timing and record why.
			result.SyncError = syncErr.Error()
			logger.Warn("timing synchronization skipped",
				logging.Error(syncErr),
				logging.String(logging.FieldLanguage, lang),
				logging.String(logging.FieldStage, "sync"),
			)
		} else {
			final = synced
			result.Synchronized = true
			logger.Info("timing synchronized",
				logging.Int("sync_points", stats.Points),
				logging.Float64("scale", stats.Scale),
				logging.Float64("offset", stats.Offset),
				logging.Float64("mean_confidence", stats.MeanConfidence),
				logging.String(logging.FieldLanguage, lang),
				logging.String(logging.FieldStage, "sync"),
			)
		}
	}

	outputPath := filepath.Join(p.cfg.Paths.OutputDir, outputName(task.SourcePath, lang))
	if err := subtitle.WriteSRTFile(outputPath, final); err != nil {
		return queue.Result{}, fmt.Errorf("write subtitles for %s: %w", lang, err)
	}
	result.OutputPath = outputPath

	logger.Info("subtitles written",
		logging.String("output", outputPath),
		logging.String(logging.FieldLanguage, lang),
		logging.Bool("synchronized", result.Synchronized),
		logging.String(logging.FieldStage, "translate"),
	)
	return result, nil
}

// synchronize fits the original-to-translated timing transform and maps
// the translated cues back onto the original clock through its inverse.
func (p *Pipeline) synchronize(original, translated []subtitle.Cue) ([]subtitle.Cue, timesync.Stats, error) {
	points := p.sync.FindSyncPoints(original, translated)
	transform, err := p.sync.CalculateTransform(points)
	if err != nil {
		return nil, timesync.Stats{}, err
	}
	return p.sync.ApplySync(transform.Invert(), translated), timesync.Summarize(points, transform), nil
}

// outputName derives the per-language SRT filename from the source file,
// e.g. movie.mkv plus "es" becomes movie.es.srt.
func outputName(sourcePath, lang string) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s.%s.srt", base, lang)
}
