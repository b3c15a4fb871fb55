package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/browser"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/ternarybob/noctua/internal/services/events"
	"github.com/ternarybob/noctua/internal/services/extractor"
	"github.com/ternarybob/noctua/internal/services/session"
)

// SessionEstablisher provides authenticated browser sessions. Satisfied
// by session.Service; faked in tests.
type SessionEstablisher interface {
	Establish(ctx context.Context, account *models.Account) (interfaces.BrowserSession, error)
}

// ResponseExtractor recovers the JSON payload from rendered page HTML.
// Satisfied by extractor.Service.
type ResponseExtractor interface {
	Extract(pageHTML string) (*extractor.Result, error)
}

// Worker runs one task end-to-end against one claimed account: session,
// fresh conversation, model select, prompt injection, submit, completion
// wait, extraction, persistence. It returns a structured Outcome and
// leaves the requeue-vs-fail decision to the scheduler.
type Worker struct {
	sessions SessionEstablisher
	extract  ResponseExtractor
	tasks    interfaces.TaskStorage
	graphs   interfaces.GraphStorage
	recorder *events.Recorder
	config   *common.Config
	logger   arbor.ILogger
}

// NewWorker creates a task worker
func NewWorker(sessions SessionEstablisher, extract ResponseExtractor, tasks interfaces.TaskStorage, graphs interfaces.GraphStorage, recorder *events.Recorder, config *common.Config, logger arbor.ILogger) *Worker {
	return &Worker{
		sessions: sessions,
		extract:  extract,
		tasks:    tasks,
		graphs:   graphs,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// Run executes the task lifecycle. The caller owns account claim and
// release; Run owns the browser session and always tears it down.
func (w *Worker) Run(ctx context.Context, task *models.Task, account *models.Account) Outcome {
	corr := events.Correlation{TaskID: task.ID, AccountID: account.ID, EntityID: task.EntityID}

	// Cancellation checkpoint before any side effect
	if ctx.Err() != nil {
		return cancelled()
	}

	if err := w.markProcessing(ctx, task, account); err != nil {
		return failureOutcome(stepErr("mark_processing", FailureRetryable, err))
	}
	w.recorder.Info(ctx, fmt.Sprintf("Extraction started for %s (%s)", task.EntityName, task.EntityType), corr)

	sess, err := w.sessions.Establish(ctx, account)
	if err != nil {
		if errors.Is(err, session.ErrSecondFactor) {
			w.recorder.Error(ctx, "Login blocked by second-factor challenge", corr, nil)
			return failureOutcome(stepErr("session", FailureUnsupported, err))
		}
		if ctx.Err() != nil {
			return cancelled()
		}
		return failureOutcome(stepErr("session", classifyMessage(err.Error()), err))
	}
	defer sess.Close()

	if ctx.Err() != nil {
		return cancelled()
	}

	if err := w.freshConversation(ctx, sess, corr); err != nil {
		return w.classify(ctx, sess, "fresh_conversation", err)
	}

	w.selectModel(ctx, sess, task, corr)

	if err := w.injectPrompt(ctx, sess, task.PromptText); err != nil {
		return w.classify(ctx, sess, "inject_prompt", err)
	}

	if err := w.submit(ctx, sess); err != nil {
		return w.classify(ctx, sess, "submit", err)
	}

	if ctx.Err() != nil {
		return cancelled()
	}

	w.awaitCompletion(ctx, sess, corr)

	html, err := sess.PageHTML(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return failureOutcome(stepErr("capture_page", FailureRetryable, err))
	}

	result, err := w.extract.Extract(html)
	if err != nil {
		return w.classifyExtraction(ctx, sess, err)
	}

	recordID, err := w.persistRecord(ctx, task, account, result)
	if err != nil {
		return failureOutcome(stepErr("persist", FailureRetryable, err))
	}

	w.recorder.Success(ctx, fmt.Sprintf("Knowledge graph extracted for %s (%d bytes, %s strategy)",
		task.EntityName, len(result.JSON), result.Strategy), corr)
	return completed(recordID)
}

func (w *Worker) markProcessing(ctx context.Context, task *models.Task, account *models.Account) error {
	now := time.Now()
	task.Status = models.TaskStatusProcessing
	task.StartedAt = &now
	task.AssignedAccountID = account.ID
	return w.tasks.SaveTask(ctx, task)
}

// freshConversation forces a brand-new conversation so no prior context
// can bleed into this extraction. Emptiness is verified heuristically; a
// failed verification is a warning, not a failure.
func (w *Worker) freshConversation(ctx context.Context, sess interfaces.BrowserSession, corr events.Correlation) error {
	if url := w.config.Chat.NewConversationURL; url != "" {
		navCtx, cancel := context.WithTimeout(ctx, w.config.Browser.NavTimeoutDuration())
		defer cancel()
		if err := sess.Navigate(navCtx, url); err != nil {
			return fmt.Errorf("failed to open new conversation: %w", err)
		}
	} else {
		selector, found, err := browser.FindFirst(ctx, sess, browser.RoleNewChat)
		if err != nil {
			return err
		}
		if found {
			if err := sess.Click(ctx, selector, false); err != nil {
				return fmt.Errorf("new-chat control unresponsive: %w", err)
			}
		}
	}

	// Wait for the input surface before judging emptiness
	if _, err := browser.WaitForRole(ctx, sess, browser.RolePromptInput, 20*time.Second); err != nil {
		return fmt.Errorf("prompt input never appeared on fresh conversation: %w", err)
	}

	_, greeting, _ := browser.FindFirst(ctx, sess, browser.RoleGreeting)
	_, priorTurn, _ := browser.FindFirst(ctx, sess, browser.RoleUserTurn)
	if !greeting && priorTurn {
		w.recorder.Warning(ctx, "Conversation emptiness unverified, prior turns may be present", corr)
	}
	return nil
}

// selectModel switches to the requested variant when a picker exists and
// the variant is set. Mismatch is soft: extraction proceeds on whatever
// model is active.
func (w *Worker) selectModel(ctx context.Context, sess interfaces.BrowserSession, task *models.Task, corr events.Correlation) {
	if task.ModelVariant == "" {
		return
	}

	selector, found, err := browser.FindFirst(ctx, sess, browser.RoleModelPicker)
	if err != nil || !found {
		w.recorder.Warning(ctx, fmt.Sprintf("Model picker not found, continuing with default instead of %s", task.ModelVariant), corr)
		return
	}
	if err := sess.Click(ctx, selector, false); err != nil {
		w.recorder.Warning(ctx, "Model picker unresponsive, continuing with default", corr)
		return
	}

	clicked, err := sess.ClickByText(ctx, task.ModelVariant)
	if err != nil || !clicked {
		w.recorder.Warning(ctx, fmt.Sprintf("Model variant %q not offered, continuing with default", task.ModelVariant), corr)
		// Close the dangling menu
		_ = sess.Press(ctx, "Escape")
	}
}

// injectPrompt lands the full prompt in the input surface and verifies
// the landed length. The driver's SetText prefers paste-style insertion
// over value assignment; key-by-key typing is never used here because
// prompts run to tens of kilobytes.
func (w *Worker) injectPrompt(ctx context.Context, sess interfaces.BrowserSession, prompt string) error {
	selector, err := browser.WaitForRole(ctx, sess, browser.RolePromptInput, 20*time.Second)
	if err != nil {
		return err
	}

	if err := sess.SetText(ctx, selector, prompt); err != nil {
		return fmt.Errorf("prompt injection failed: %w", err)
	}

	if w.verifyInjected(ctx, sess, selector, prompt) {
		return nil
	}

	// Secondary fallback: direct node assignment with a synthetic input
	// event, bypassing whatever swallowed the first attempt
	w.logger.Warn().Str("selector", selector).Msg("Injected prompt suspiciously short, applying fallback")
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.focus();
		if (el.isContentEditable || el.getAttribute('contenteditable') === 'true') {
			el.textContent = %s;
		} else {
			el.value = %s;
		}
		el.dispatchEvent(new Event('input', {bubbles: true}));
		return true;
	})()`, selector, strconv.Quote(prompt), strconv.Quote(prompt))
	if err := sess.Evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("fallback prompt injection failed: %w", err)
	}

	if !w.verifyInjected(ctx, sess, selector, prompt) {
		return fmt.Errorf("prompt landed truncated after both injection channels")
	}
	return nil
}

// verifyInjected checks the landed content length against the source.
// Whitespace normalization in the editor makes exact equality wrong; the
// configured ratio is the floor.
func (w *Worker) verifyInjected(ctx context.Context, sess interfaces.BrowserSession, selector, prompt string) bool {
	landed, err := sess.ReadText(ctx, selector)
	if err != nil {
		return false
	}
	ratio := w.config.Worker.InjectVerifyRatio
	if ratio <= 0 {
		ratio = 0.9
	}
	return float64(len(landed)) >= ratio*float64(len(prompt))
}

// submit sends the prompt and confirms generation actually started.
// Escalation ladder per attempt: click the send control, wake the UI
// with a synthetic keystroke and click again, then the keyboard submit
// shortcut. One full retry before giving up.
func (w *Worker) submit(ctx context.Context, sess interfaces.BrowserSession) error {
	for attempt := 0; attempt < 2; attempt++ {
		if err := w.trySubmit(ctx, sess); err != nil {
			return err
		}
		started, err := w.waitGenerationStart(ctx, sess)
		if err != nil {
			return err
		}
		if started {
			return nil
		}
		w.logger.Warn().Int("attempt", attempt+1).Msg("Generation did not start after submit")
	}
	return fmt.Errorf("generation never started after submit retries")
}

func (w *Worker) trySubmit(ctx context.Context, sess interfaces.BrowserSession) error {
	selector, found, err := browser.FindFirst(ctx, sess, browser.RoleSendControl)
	if err != nil {
		return err
	}
	if found {
		if err := sess.Click(ctx, selector, false); err == nil {
			return nil
		}
		// Wake the UI's reactivity, then force the click through the DOM
		_ = sess.Press(ctx, "Tab")
		if err := sess.Click(ctx, selector, true); err == nil {
			return nil
		}
	}
	// Final fallback: keyboard submit from the input surface
	if err := sess.Press(ctx, "Enter"); err != nil {
		return fmt.Errorf("all submit channels failed: %w", err)
	}
	return nil
}

// waitGenerationStart polls for a generating indicator (the stop
// affordance) within the configured start timeout.
func (w *Worker) waitGenerationStart(ctx context.Context, sess interfaces.BrowserSession) (bool, error) {
	deadline := time.Now().Add(w.config.Worker.GenerationStartTimeoutDuration())
	for {
		_, found, err := browser.FindFirst(ctx, sess, browser.RoleStopControl)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// awaitCompletion polls for the stop affordance to disappear, bounded by
// the hard ceiling. Timing out is a warning: partial output may still
// extract.
func (w *Worker) awaitCompletion(ctx context.Context, sess interfaces.BrowserSession, corr events.Correlation) {
	deadline := time.Now().Add(w.config.Worker.GenerationCompleteTimeoutDuration())
	for {
		_, generating, err := browser.FindFirst(ctx, sess, browser.RoleStopControl)
		if err == nil && !generating {
			return
		}
		if time.Now().After(deadline) {
			w.recorder.Warning(ctx, "Generation completion wait timed out, attempting extraction anyway", corr)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (w *Worker) persistRecord(ctx context.Context, task *models.Task, account *models.Account, result *extractor.Result) (string, error) {
	record := &models.GraphRecord{
		ID:           common.NewGraphRecordID(),
		EntityType:   task.EntityType,
		EntityID:     task.EntityID,
		EntityName:   task.EntityName,
		SourceTaskID: task.ID,
		RawJSON:      result.JSON,
		ModelUsed:    task.ModelVariant,
		AccountUsed:  account.ID,
		ExtractedAt:  time.Now(),
	}
	if err := w.graphs.SaveRecord(ctx, record); err != nil {
		return "", err
	}
	return record.ID, nil
}

// classify turns a step failure into an outcome, upgrading it to
// rate-limited when the page shows a throttling banner.
func (w *Worker) classify(ctx context.Context, sess interfaces.BrowserSession, step string, err error) Outcome {
	if ctx.Err() != nil {
		return cancelled()
	}

	var stepError *StepError
	if errors.As(err, &stepError) {
		return failureOutcome(stepError)
	}

	class := classifyMessage(err.Error())
	if class != FailureRateLimit && w.pageShowsRateLimit(ctx, sess) {
		class = FailureRateLimit
	}
	return failureOutcome(stepErr(step, class, err))
}

// classifyExtraction maps extractor failures: an unparseable payload is
// terminal, everything else (no candidate, empty page) is ordinary
// web-UI volatility and retryable.
func (w *Worker) classifyExtraction(ctx context.Context, sess interfaces.BrowserSession, err error) Outcome {
	if ctx.Err() != nil {
		return cancelled()
	}

	var extractionErr *extractor.ExtractionError
	if errors.As(err, &extractionErr) {
		diagnostics := []string{
			"strategy", extractionErr.Diagnostics.Strategy,
			"text_length", strconv.Itoa(extractionErr.Diagnostics.TextLength),
			"preview", extractionErr.Diagnostics.TextPreview,
		}
		if extractionErr.Diagnostics.Strategy == "repair" {
			return failureOutcome(stepErr("extract", FailureParse, err, diagnostics...))
		}
		if w.pageShowsRateLimit(ctx, sess) {
			return failureOutcome(stepErr("extract", FailureRateLimit, err, diagnostics...))
		}
		return failureOutcome(stepErr("extract", FailureRetryable, err, diagnostics...))
	}
	return failureOutcome(stepErr("extract", FailureRetryable, err))
}

// pageShowsRateLimit scans the visible page for throttling banners.
func (w *Worker) pageShowsRateLimit(ctx context.Context, sess interfaces.BrowserSession) bool {
	text, err := sess.ReadText(ctx, "body")
	if err != nil {
		return false
	}
	lowered := strings.ToLower(text)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
