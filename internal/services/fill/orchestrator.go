package fill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/browser"
	"github.com/formpilot/formpilot/internal/domain"
)

// ItemOutcome describes what happened to one answer
type ItemOutcome struct {
	QuestionNumber int
	ExpectedID     int
	ActualID       int
	Fallback       bool
	Filled         bool
	Selected       bool
	Method         string
	Mapping        Mapping
	Err            error
}

// ItemObserver is told about every item as soon as it finishes
type ItemObserver func(position, total int, outcome ItemOutcome, logs []string)

// Orchestrator writes an answer set into an open page
type Orchestrator struct {
	locator       *FieldLocator
	mapper        *ResponseValueMapper
	fieldTimeout  time.Duration
	selectTimeout time.Duration
	itemDelay     time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	logger        *zap.Logger
}

// OrchestratorConfig configures the fill loop
type OrchestratorConfig struct {
	FieldTimeout  time.Duration
	SelectTimeout time.Duration
	ItemDelay     time.Duration
}

// NewOrchestrator creates a fill loop
func NewOrchestrator(cfg OrchestratorConfig, locator *FieldLocator, mapper *ResponseValueMapper, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		locator:       locator,
		mapper:        mapper,
		fieldTimeout:  cfg.FieldTimeout,
		selectTimeout: cfg.SelectTimeout,
		itemDelay:     cfg.ItemDelay,
		sleep:         sleepContext,
		logger:        logger,
	}
}

// Fill writes every answer in ascending question order. A failing item is logged and
// counted but never stops the loop; the result is successful whenever the loop completes.
// Cancelling ctx ends the run between items and marks it failed.
func (o *Orchestrator) Fill(ctx context.Context, page browser.Page, answers *domain.AnswerSet, pr domain.PageRange, fieldIDs []int, observe ItemObserver) *domain.FillResult {
	records := answers.Records()
	result := &domain.FillResult{
		TotalCount: len(records),
		PageNumber: pr.PageNumber,
	}

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			result.AddLog(fmt.Sprintf("Run stopped before question %d: %v", record.QuestionNumber, err))
			result.Fail(err)
			result.Status = "Cancelled"
			return result
		}

		outcome, logs := o.fillItem(page, i, record, pr, fieldIDs)
		for _, line := range logs {
			result.AddLog(line)
		}
		if outcome.Filled {
			result.ProcessedCount++
		} else {
			result.FailedCount++
		}

		if observe != nil {
			observe(i+1, len(records), outcome, logs)
		}

		// cancellation is picked up at the top of the next iteration
		_ = o.sleep(ctx, o.itemDelay)
	}

	result.IsSuccess = true
	result.Status = "Completed"
	result.AddLog(fmt.Sprintf("Done: %d filled, %d failed, %d total", result.ProcessedCount, result.FailedCount, result.TotalCount))
	return result
}

func (o *Orchestrator) fillItem(page browser.Page, index int, record domain.AnswerRecord, pr domain.PageRange, fieldIDs []int) (ItemOutcome, []string) {
	var logs []string
	q := record.QuestionNumber

	outcome := ItemOutcome{
		QuestionNumber: q,
		ExpectedID:     pr.ExpectedFieldID(q),
	}
	outcome.ActualID, outcome.Fallback = ResolveFieldID(outcome.ExpectedID, index, fieldIDs)
	if outcome.Fallback {
		logs = append(logs, fmt.Sprintf("Question %d: field %d not on page, trying field %d", q, outcome.ExpectedID, outcome.ActualID))
	}

	textID := o.locator.TextFieldID(outcome.ActualID)
	if err := page.FillText(textID, record.FreeText, o.fieldTimeout); err != nil {
		outcome.Err = err
		logs = append(logs,
			fmt.Sprintf("Question %d could not be filled: %v", q, err),
			fmt.Sprintf("   expected/attempted field: %d / %d", outcome.ExpectedID, outcome.ActualID),
		)
		o.logger.Warn("item failed",
			zap.Int("question", q),
			zap.Int("expected_id", outcome.ExpectedID),
			zap.Int("attempted_id", outcome.ActualID),
			zap.Error(err),
		)
		return outcome, logs
	}
	outcome.Filled = true

	selectLog, err := o.selectOption(page, record, &outcome)
	if err != nil {
		logs = append(logs,
			fmt.Sprintf("Option not selected for question %d: %v", q, err),
			fmt.Sprintf("Question %d -> field %d filled (text only)", q, outcome.ActualID),
		)
		o.logger.Debug("option not selected", zap.Int("question", q), zap.Error(err))
		return outcome, logs
	}
	logs = append(logs, selectLog...)
	return outcome, logs
}

func (o *Orchestrator) selectOption(page browser.Page, record domain.AnswerRecord, outcome *ItemOutcome) ([]string, error) {
	q := record.QuestionNumber
	selectID := o.locator.SelectID(q)

	labels, err := page.OptionLabels(selectID, o.selectTimeout)
	if err != nil {
		return nil, err
	}

	mapping := o.mapper.Map(record.Categorical)
	outcome.Mapping = mapping

	var logs []string
	if !mapping.Matched {
		logs = append(logs, fmt.Sprintf("Question %d: unrecognised option value '%s' (policy %s)", q, record.Categorical, o.mapper.Policy()))
	}
	if mapping.Skip {
		logs = append(logs, fmt.Sprintf("Question %d -> field %d filled, option left unchanged", q, outcome.ActualID))
		return logs, nil
	}

	index, method := chooseOption(labels, mapping.Label)
	if mapping.FirstOption {
		index, method = chooseOption(labels, "")
	}
	if index < 0 {
		return nil, domain.ErrSelectFailed(selectID, fmt.Errorf("control has no options"))
	}

	selected, err := page.SelectIndex(selectID, index)
	if err != nil {
		return nil, err
	}
	outcome.Selected = true
	outcome.Method = method

	logs = append(logs, fmt.Sprintf("Question %d -> field %d filled. Option: %s (method: %s, selected: %s)", q, outcome.ActualID, mapping.Label, method, selected))
	return logs, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
