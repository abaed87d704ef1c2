// -----------------------------------------------------------------------
// Stylize Pipeline - Drives one browser tab through the generation script
// -----------------------------------------------------------------------

package stylize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// Stage names one step of the automation script
type Stage string

const (
	StageAcquire       Stage = "acquire_session"
	StageOpenPage      Stage = "open_page"
	StageNavigate      Stage = "navigate"
	StageUploadControl Stage = "wait_upload_control"
	StageUpload        Stage = "upload"
	StageTypePrompt    Stage = "type_prompt"
	StageSubmit        Stage = "submit"
	StageGeneration    Stage = "wait_generation"
	StageResult        Stage = "wait_result"
	StageReadResult    Stage = "read_result"
	StageScrape        Stage = "scrape_page"
)

// StageError reports a failed stage. Timeout is the bound the stage ran under.
type StageError struct {
	Stage   Stage
	Timeout time.Duration
	Err     error
}

func (e *StageError) Error() string {
	if e.TimedOut() {
		return fmt.Sprintf("%s timed out after %s", e.Stage, e.Timeout)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// TimedOut reports whether the stage hit its own deadline
func (e *StageError) TimedOut() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Pipeline runs jobs against the target page using the shared browser session
type Pipeline struct {
	sessions interfaces.SessionProvider
	entryURL string
	config   common.PipelineConfig
	patterns []*regexp.Regexp
	logger   arbor.ILogger

	sleep      func(ctx context.Context, d time.Duration) error
	removeFile func(path string) error
}

// NewPipeline creates a pipeline. It fails only on invalid image URL patterns.
func NewPipeline(sessions interfaces.SessionProvider, browserConfig common.BrowserConfig, config common.PipelineConfig, logger arbor.ILogger) (*Pipeline, error) {
	patterns, err := CompilePatterns(config.ImageURLPatterns)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		sessions:   sessions,
		entryURL:   browserConfig.EntryURL,
		config:     config,
		patterns:   patterns,
		logger:     logger,
		sleep:      sleepContext,
		removeFile: os.Remove,
	}, nil
}

// Process runs one job to its terminal outcome. It never panics and always
// closes the tab and removes the job's input file before returning.
func (p *Pipeline) Process(ctx context.Context, job *models.Job) (outcome models.Outcome) {
	if job == nil {
		return models.ErrorOutcome("nil job", "")
	}

	logger := p.logger.WithCorrelationId(job.ID)
	startTime := time.Now()

	logger.Info().
		Str("display_name", job.DisplayName).
		Bool("notify_email", job.NotifyEmail != "").
		Msg("Pipeline started")

	var page interfaces.Page

	// Runs last: cleanup sees the page even when a stage panicked
	defer func() {
		p.cleanup(logger, job, page)
		logger.Info().
			Str("outcome", string(outcome.Kind)).
			Dur("duration", time.Since(startTime)).
			Msg("Pipeline finished")
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.StackTrace()).
				Msg("Recovered from panic in pipeline")
			outcome = models.ErrorOutcome(fmt.Sprintf("pipeline panic: %v", r), job.Prompt)
		}
	}()

	return p.run(ctx, logger, job, &page)
}

func (p *Pipeline) run(ctx context.Context, logger arbor.ILogger, job *models.Job, pagePtr *interfaces.Page) models.Outcome {
	selectors := p.config.Selectors

	browser, err := p.sessions.Acquire(ctx)
	if err != nil {
		return p.fail(logger, job, &StageError{Stage: StageAcquire, Err: err})
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		return p.fail(logger, job, &StageError{Stage: StageOpenPage, Err: err})
	}
	*pagePtr = page

	// 1. Navigate (hard)
	err = p.stage(ctx, logger, StageNavigate, p.config.NavigationTimeout.D(), func(c context.Context) error {
		return page.Navigate(c, p.entryURL)
	})
	if err != nil {
		return p.fail(logger, job, err)
	}

	// 2. Upload control (hard), then inject the input
	err = p.stage(ctx, logger, StageUploadControl, p.config.UploadWaitTimeout.D(), func(c context.Context) error {
		return page.WaitPresent(c, selectors.FileInput)
	})
	if err != nil {
		return p.fail(logger, job, err)
	}

	err = p.stage(ctx, logger, StageUpload, p.config.InteractionTimeout.D(), func(c context.Context) error {
		return page.UploadFiles(c, selectors.FileInput, []string{job.InputPath})
	})
	if err != nil {
		return p.fail(logger, job, err)
	}

	// 3. No upload completion signal exists
	if err := p.settle(ctx, logger, "upload", p.config.UploadSettle.D()); err != nil {
		return p.fail(logger, job, err)
	}

	// 4. Prompt, settle, submit
	err = p.stage(ctx, logger, StageTypePrompt, p.config.InteractionTimeout.D(), func(c context.Context) error {
		return page.Type(c, selectors.PromptInput, job.Prompt)
	})
	if err != nil {
		return p.fail(logger, job, err)
	}

	if err := p.settle(ctx, logger, "input", p.config.InputSettle.D()); err != nil {
		return p.fail(logger, job, err)
	}

	err = p.stage(ctx, logger, StageSubmit, p.config.InteractionTimeout.D(), page.PressEnter)
	if err != nil {
		return p.fail(logger, job, err)
	}

	// 5. Generation indicator (soft)
	p.awaitGeneration(ctx, logger, page)

	// 6. Settle, then locate the result
	if err := p.settle(ctx, logger, "post_generation", p.config.PostGenerationSettle.D()); err != nil {
		return p.fail(logger, job, err)
	}

	return p.extract(ctx, logger, job, page)
}

// awaitGeneration waits for the generating indicator to go away. Expiry or any
// other failure is logged and ignored; the indicator may be stale even on success.
func (p *Pipeline) awaitGeneration(ctx context.Context, logger arbor.ILogger, page interfaces.Page) {
	timeout := p.config.GenerationTimeout.D()
	err := p.stage(ctx, logger, StageGeneration, timeout, func(c context.Context) error {
		return page.WaitAbsent(c, p.config.Selectors.GeneratingIndicator)
	})
	if err == nil {
		logger.Info().Msg("Generation indicator cleared")
		return
	}

	logger.Warn().
		Err(err).
		Dur("timeout", timeout).
		Msg("Generation indicator wait did not complete, checking for result anyway")
}

func (p *Pipeline) extract(ctx context.Context, logger arbor.ILogger, job *models.Job, page interfaces.Page) models.Outcome {
	selector := p.config.Selectors.ResultImage

	err := p.stage(ctx, logger, StageResult, p.config.ResultTimeout.D(), func(c context.Context) error {
		return page.WaitPresent(c, selector)
	})
	if err != nil {
		if ctx.Err() != nil {
			return p.fail(logger, job, err)
		}
		logger.Warn().Err(err).Msg("Result image not found, scraping page")
		return p.fallback(ctx, logger, job, page)
	}

	var src string
	var ok bool
	err = p.stage(ctx, logger, StageReadResult, p.config.InteractionTimeout.D(), func(c context.Context) error {
		var readErr error
		src, ok, readErr = page.Attribute(c, selector, "src")
		return readErr
	})
	if err != nil {
		return p.fail(logger, job, err)
	}
	if !ok || src == "" {
		logger.Warn().Msg("Result image has no src, scraping page")
		return p.fallback(ctx, logger, job, page)
	}
	src = ResolveURL(p.entryURL, src)

	logger.Info().Str("artifact_url", src).Msg("Result image extracted")
	return models.SuccessOutcome(src, job.Prompt)
}

// fallback builds a NotFound outcome from whatever the page still shows
func (p *Pipeline) fallback(ctx context.Context, logger arbor.ILogger, job *models.Job, page interfaces.Page) models.Outcome {
	var html string
	err := p.stage(ctx, logger, StageScrape, p.config.InteractionTimeout.D(), func(c context.Context) error {
		var readErr error
		html, readErr = page.HTML(c)
		return readErr
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Page scrape failed")
		return models.NotFoundOutcome(DefaultDiagnostic, job.Prompt, "")
	}

	result, err := ExtractFallback(html, p.entryURL, p.config.Selectors.AssistantMessage, p.patterns)
	if err != nil {
		logger.Warn().Err(err).Msg("Fallback extraction failed")
	}

	logger.Warn().
		Str("diagnostic", result.Diagnostic).
		Str("best_guess_url", result.BestGuessURL).
		Int("candidates", result.Candidates).
		Msg("No generated image found")

	return models.NotFoundOutcome(result.Diagnostic, job.Prompt, result.BestGuessURL)
}

// stage runs fn under its own timeout derived from ctx
func (p *Pipeline) stage(ctx context.Context, logger arbor.ILogger, name Stage, timeout time.Duration, fn func(context.Context) error) error {
	startTime := time.Now()

	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	if err := fn(stageCtx); err != nil {
		return &StageError{Stage: name, Timeout: timeout, Err: err}
	}

	logger.Debug().
		Str("stage", string(name)).
		Dur("elapsed", time.Since(startTime)).
		Msg("Stage complete")
	return nil
}

// settle is an unconditional delay standing in for state the page does not expose
func (p *Pipeline) settle(ctx context.Context, logger arbor.ILogger, name string, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	logger.Debug().Str("settle", name).Dur("delay", d).Msg("Settling")
	if err := p.sleep(ctx, d); err != nil {
		return fmt.Errorf("%s settle interrupted: %w", name, err)
	}
	return nil
}

func (p *Pipeline) fail(logger arbor.ILogger, job *models.Job, err error) models.Outcome {
	logger.Error().Err(err).Msg("Job failed")
	return models.ErrorOutcome(err.Error(), job.Prompt)
}

// cleanup closes the tab and removes the input file. Each step is independent.
func (p *Pipeline) cleanup(logger arbor.ILogger, job *models.Job, page interfaces.Page) {
	if page != nil {
		if err := closePage(page); err != nil {
			logger.Warn().Err(err).Msg("Failed to close page")
		}
	}

	if job.InputPath == "" {
		return
	}
	if err := p.removeFile(job.InputPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug().Str("path", job.InputPath).Msg("Input file already gone")
			return
		}
		logger.Warn().Err(err).Str("path", job.InputPath).Msg("Failed to remove input file")
		return
	}
	logger.Debug().Str("path", job.InputPath).Msg("Input file removed")
}

func closePage(page interfaces.Page) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic closing page: %v", r)
		}
	}()
	return page.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
