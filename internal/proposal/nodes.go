package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/grantflow/internal/application/graph"
	"github.com/aescanero/grantflow/internal/application/interrupt"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/aescanero/grantflow/pkg/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Node names of the proposal workflow.
const (
	NodeLoadDocument  = "loadDocument"
	NodeAnalyze       = "analyze"
	NodeResearch      = "research"
	NodeSolution      = "solution"
	NodeSynthesize    = "synthesize"
	NodeHumanReview   = "humanReview"
	NodePlanSections  = "planSections"
	NodeWriteSections = "writeSections"
	NodeSectionReview = "sectionReview"
	NodeFinalize      = "finalize"
	NodeRespond       = "respond"
)

const systemPrompt = "You are an experienced grant writer helping an applicant respond to a request for proposals."

// Services are the collaborators injected into the workflow nodes.
type Services struct {
	Generator ports.Generator
	Documents ports.DocumentSource
	Catalog   *Catalog
	Retry     retry.Policy
	Logger    *zap.Logger
}

type nodes struct {
	generator ports.Generator
	documents ports.DocumentSource
	catalog   *Catalog
	retry     retry.Policy
	logger    *zap.Logger
}

func needsGeneration(status domain.ContentStatus) bool {
	switch status {
	case "", domain.ContentStatusQueued, domain.ContentStatusEdited, domain.ContentStatusStale, domain.ContentStatusError:
		return true
	default:
		return false
	}
}

// draftable sections are written by writeSections. Stale sections wait until
// the reviewer keeps or regenerates them.
func draftable(status domain.ContentStatus) bool {
	switch status {
	case "", domain.ContentStatusQueued, domain.ContentStatusEdited, domain.ContentStatusError:
		return true
	default:
		return false
	}
}

func (n *nodes) onRetry(node string) retry.OnRetry {
	return func(attempt int, err error, wait time.Duration) {
		n.logger.Warn("retrying collaborator call",
			zap.String("node", node),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
}

func (n *nodes) generate(ctx context.Context, node string, prompt ports.Prompt) (string, error) {
	var text string
	err := retry.Do(ctx, n.retry, func(ctx context.Context) error {
		out, err := n.generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	}, n.onRetry(node))
	return text, err
}

// loadDocument resolves the RFP reference into document text. Documents
// submitted inline are accepted as they are.
func (n *nodes) loadDocument(ctx context.Context, s *domain.WorkflowState) (graph.Result, error) {
	ref := s.RFPDocument.ID
	if ref == "" {
		if v, ok := s.Extra["rfpId"].(string); ok {
			ref = v
		}
	}
	if s.RFPDocument.Text != "" {
		doc := s.RFPDocument
		if doc.ID == "" {
			doc.ID = ref
		}
		doc.Status = domain.LoadStatusLoaded
		return graph.Continue(&domain.Update{RFPDocument: &doc}), nil
	}
	if ref == "" {
		return graph.Continue(&domain.Update{
			RFPDocument: &domain.Document{Status: domain.LoadStatusError},
			Status:      domain.WorkflowStatusError,
		}), domain.NewValidationError("rfpDocument.id", "document reference is required")
	}

	var doc *domain.Document
	err := retry.Do(ctx, n.retry, func(ctx context.Context) error {
		d, err := n.documents.Fetch(ctx, ref)
		if err != nil {
			return err
		}
		doc = d
		return nil
	}, n.onRetry(NodeLoadDocument))
	if err != nil {
		return graph.Continue(&domain.Update{
			RFPDocument: &domain.Document{ID: ref, Status: domain.LoadStatusError},
			Status:      domain.WorkflowStatusError,
		}), fmt.Errorf("failed to load document %s: %w", ref, err)
	}

	doc.ID = ref
	doc.Status = domain.LoadStatusLoaded
	n.logger.Info("document loaded", zap.String("document_id", ref), zap.Int("bytes", len(doc.Text)))
	return graph.Continue(&domain.Update{RFPDocument: doc}), nil
}

func routeAfterLoad(s *domain.WorkflowState) []string {
	if s.RFPDocument.Status == domain.LoadStatusLoaded {
		return []string{NodeAnalyze}
	}
	return []string{graph.End}
}

// analyze fans out to the research and solution paths.
func (n *nodes) analyze(_ context.Context, _ *domain.WorkflowState) (graph.Result, error) {
	return graph.Continue(nil), nil
}

func (n *nodes) research(ctx context.Context, s *domain.WorkflowState) (graph.Result, error) {
	result, err := n.analysis(ctx, s, NodeResearch, s.Research,
		"Analyze the funder's priorities, eligibility rules and scoring criteria in this RFP. "+
			`Answer with a JSON object {"summary": string, "priorities": [string], "criteria": [string]}.`)
	if result == nil {
		return graph.Continue(nil), err
	}
	return graph.Continue(&domain.Update{Research: result}), err
}

func (n *nodes) solution(ctx context.Context, s *domain.WorkflowState) (graph.Result, error) {
	result, err := n.analysis(ctx, s, NodeSolution, s.Solution,
		"Identify the solution the RFP is asking applicants to deliver and the evidence it expects. "+
			`Answer with a JSON object {"summary": string, "requirements": [string], "deliverables": [string]}.`)
	if result == nil {
		return graph.Continue(nil), err
	}
	return graph.Continue(&domain.Update{Solution: result}), err
}

// analysis regenerates a structured result when its status asks for it.
func (n *nodes) analysis(ctx context.Context, s *domain.WorkflowState, node string, current domain.Result, instructions string) (*domain.Result, error) {
	if !needsGeneration(current.Status) {
		return nil, nil
	}
	if s.RFPDocument.Status != domain.LoadStatusLoaded {
		return &domain.Result{Status: domain.ContentStatusError, Feedback: current.Feedback},
			domain.NewValidationError("rfpDocument", "document is not loaded")
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nRFP:\n")
	b.WriteString(s.RFPDocument.Text)
	if current.Feedback != "" {
		b.WriteString("\n\nReviewer guidance:\n")
		b.WriteString(current.Feedback)
	}

	text, err := n.generate(ctx, node, ports.Prompt{System: systemPrompt, User: b.String(), MaxTokens: 2048})
	if err != nil {
		return &domain.Result{Status: domain.ContentStatusError, Feedback: current.Feedback}, err
	}
	return n.structured(node, text, current.Feedback)
}

func (n *nodes) structured(node, text, feedback string) (*domain.Result, error) {
	data, err := parseStructured(text)
	if err != nil {
		if strings.TrimSpace(text) == "" {
			return &domain.Result{Status: domain.ContentStatusError, Feedback: feedback},
				fmt.Errorf("%s produced no usable content: %w", node, err)
		}
		n.logger.Warn("model output is not structured, keeping raw text",
			zap.String("node", node),
			zap.Error(err))
		data = map[string]any{"text": strings.TrimSpace(text)}
	}
	return &domain.Result{Status: domain.ContentStatusComplete, Data: data, Feedback: feedback}, nil
}

// synthesize is the single synchronization and formatting stage of the
// research and solution paths. It pairs funder priorities with the
// applicant's solution.
func (n *nodes) synthesize(ctx context.Context, s *domain.WorkflowState) (graph.Result, error) {
	if !needsGeneration(s.Connections.Status) {
		return graph.Continue(nil), nil
	}
	if s.Research.Status == domain.ContentStatusError || s.Solution.Status == domain.ContentStatusError {
		return graph.Continue(&domain.Update{Connections: &domain.Result{Status: domain.ContentStatusError}}),
			domain.NewValidationError("connections", "research and solution analysis must both succeed")
	}

	prompt := ports.Prompt{
		System: systemPrompt,
		User: "Pair each funder priority with the part of the solution that addresses it. " +
			`Answer with a JSON object {"summary": string, "pairs": [{"priority": string, "evidence": string}]}.` +
			"\n\nResearch:\n" + summaryOf(s.Research.Data) +
			"\n\nSolution:\n" + summaryOf(s.Solution.Data),
		MaxTokens: 2048,
	}
	if s.Connections.Feedback != "" {
		prompt.User += "\n\nReviewer guidance:\n" + s.Connections.Feedback
	}
	text, err := n.generate(ctx, NodeSynthesize, prompt)
	if err != nil {
		return graph.Continue(&domain.Update{Connections: &domain.Result{Status: domain.ContentStatusError, Feedback: s.Connections.Feedback}}), err
	}
	result, err := n.structured(NodeSynthesize, text, s.Connections.Feedback)
	return graph.Continue(&domain.Update{Connections: result}), err
}

func analysisReady(s *domain.WorkflowState) bool {
	return s.Research.Status != "" && s.Solution.Status != ""
}

// humanReview pauses the thread so a reviewer can check the analysis.
func (n *nodes) humanReview(_ context.Context, s *domain.WorkflowState) (graph.Result, error) {
	return graph.Continue(&domain.Update{
		InterruptStatus: &domain.InterruptStatus{
			IsInterrupted:     true,
			InterruptionPoint: NodeHumanReview,
		},
		InterruptMetadata: &domain.InterruptMetadata{
			NodeID:           NodeHumanReview,
			Reason:           "Review the funder research before sections are drafted",
			ContentReference: domain.ChannelResearch,
			Timestamp:        time.Now().UTC(),
			EvaluationResult: map[string]any{
				"research":    string(s.Research.Status),
				"solution":    string(s.Solution.Status),
				"connections": string(s.Connections.Status),
			},
		},
		Research: &domain.Result{Status: domain.ContentStatusAwaitingReview, Data: s.Research.Data, Feedback: s.Research.Feedback},
	}), nil
}

// planSections queues every catalog section that does not exist yet.
func (n *nodes) planSections(_ context.Context, s *domain.WorkflowState) (graph.Result, error) {
	sections := make(map[string]domain.Section)
	for _, spec := range n.catalog.Sections {
		if _, ok := s.Sections[spec.ID]; ok {
			continue
		}
		sections[spec.ID] = domain.Section{
			ID:             spec.ID,
			Title:          spec.Title,
			Status:         domain.ContentStatusQueued,
			PreviousStatus: domain.ContentStatusQueued,
			DependsOn:      append([]string(nil), spec.DependsOn...),
		}
	}
	if len(sections) == 0 {
		return graph.Continue(nil), nil
	}
	return graph.Continue(&domain.Update{Sections: sections}), nil
}

// writeSections drafts queued, edited and stale sections layer by layer so
// every section sees the content it depends on.
func (n *nodes) writeSections(ctx context.Context, s *domain.WorkflowState) (graph.Result, error) {
	current := make(map[string]domain.Section, len(s.Sections))
	for id, sec := range s.Sections {
		current[id] = sec
	}
	written := make(map[string]domain.Section)
	var errs []error

	for _, layer := range n.catalog.Layers() {
		var mu sync.Mutex
		grp, gctx := errgroup.WithContext(ctx)
		for _, id := range layer {
			id := id
			sec, ok := current[id]
			if !ok || !draftable(sec.Status) {
				continue
			}
			grp.Go(func() error {
				drafted, err := n.draft(gctx, s, current, sec)
				mu.Lock()
				defer mu.Unlock()
				written[id] = drafted
				if err != nil {
					errs = append(errs, fmt.Errorf("section %s: %w", id, err))
				}
				return nil
			})
		}
		_ = grp.Wait()
		for id, sec := range written {
			current[id] = sec
		}
	}

	if len(written) == 0 {
		return graph.Continue(nil), nil
	}
	return graph.Continue(&domain.Update{Sections: written}), errors.Join(errs...)
}

func (n *nodes) draft(ctx context.Context, s *domain.WorkflowState, current map[string]domain.Section, sec domain.Section) (domain.Section, error) {
	spec, _ := n.catalog.Section(sec.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "Write the %q section of the proposal. %s\n", spec.Title, spec.Guidance)
	if spec.MinWords > 0 {
		fmt.Fprintf(&b, "Use at least %d words.\n", spec.MinWords)
	}
	for _, dep := range spec.DependsOn {
		switch dep {
		case domain.ChannelResearch:
			fmt.Fprintf(&b, "\nFunder research:\n%s\n", summaryOf(s.Research.Data))
		case domain.ChannelSolution:
			fmt.Fprintf(&b, "\nSolution analysis:\n%s\n", summaryOf(s.Solution.Data))
		case domain.ChannelConnections:
			fmt.Fprintf(&b, "\nPriority pairing:\n%s\n", summaryOf(s.Connections.Data))
		default:
			if up, ok := current[dep]; ok && up.Content != "" {
				fmt.Fprintf(&b, "\n%s:\n%s\n", up.Title, up.Content)
			}
		}
	}
	if sec.Status == domain.ContentStatusEdited && sec.Content != "" {
		fmt.Fprintf(&b, "\nPrevious draft:\n%s\n", sec.Content)
	}
	if sec.Feedback != "" {
		fmt.Fprintf(&b, "\nReviewer guidance:\n%s\n", sec.Feedback)
	}

	text, err := n.generate(ctx, NodeWriteSections, ports.Prompt{System: systemPrompt, User: b.String(), MaxTokens: 4096})
	sec.PreviousStatus = sec.Status
	if err != nil {
		sec.Status = domain.ContentStatusError
		return sec, err
	}
	if strings.TrimSpace(text) == "" {
		sec.Status = domain.ContentStatusError
		return sec, errNoStructuredContent
	}
	sec.Content = strings.TrimSpace(text)
	sec.Status = domain.ContentStatusAwaitingReview
	return sec, nil
}

// sectionReview pauses on the first drafted section awaiting review. With
// nothing left to review or draft and some section stale or failed, the
// thread is paused.
func (n *nodes) sectionReview(_ context.Context, s *domain.WorkflowState) (graph.Result, error) {
	for _, id := range n.catalog.IDs() {
		sec, ok := s.Sections[id]
		if !ok || sec.Status != domain.ContentStatusAwaitingReview {
			continue
		}
		spec, _ := n.catalog.Section(id)
		words := len(strings.Fields(sec.Content))
		return graph.Continue(&domain.Update{
			InterruptStatus: &domain.InterruptStatus{
				IsInterrupted:     true,
				InterruptionPoint: NodeSectionReview,
			},
			InterruptMetadata: &domain.InterruptMetadata{
				NodeID:           NodeSectionReview,
				Reason:           fmt.Sprintf("Review the %s section", spec.Title),
				ContentReference: interrupt.SectionRef(id),
				Timestamp:        time.Now().UTC(),
				EvaluationResult: map[string]any{
					"words":        words,
					"minWords":     spec.MinWords,
					"meetsMinimum": words >= spec.MinWords,
				},
			},
		}), nil
	}
	if sectionsNext(s) == graph.End {
		return graph.Continue(&domain.Update{Status: domain.WorkflowStatusPaused}), nil
	}
	return graph.Continue(nil), nil
}

// routeAfterSectionReview stops without finalizing while a section is stale
// or failed; ResolveStale or a new run picks the pipeline up again.
func routeAfterSectionReview(s *domain.WorkflowState) []string {
	return []string{sectionsNext(s)}
}

func sectionsNext(s *domain.WorkflowState) string {
	redraft, stale := false, false
	for _, sec := range s.Sections {
		switch {
		case sec.Status == domain.ContentStatusAwaitingReview:
			return NodeSectionReview
		case sec.Status == domain.ContentStatusQueued || sec.Status == domain.ContentStatusEdited:
			redraft = true
		case sec.Status == domain.ContentStatusStale || sec.Status == domain.ContentStatusError:
			stale = true
		}
	}
	switch {
	case redraft:
		return NodeWriteSections
	case stale:
		return graph.End
	default:
		return NodeFinalize
	}
}

// finalize assembles the approved sections in catalog order.
func (n *nodes) finalize(_ context.Context, s *domain.WorkflowState) (graph.Result, error) {
	var b strings.Builder
	for _, id := range n.catalog.IDs() {
		sec, ok := s.Sections[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Title, sec.Content)
	}
	return graph.Continue(&domain.Update{
		Extra: map[string]any{"proposal": strings.TrimSpace(b.String())},
		Messages: []domain.Message{{
			Role:      "assistant",
			Content:   "The proposal draft is complete.",
			Timestamp: time.Now().UTC(),
		}},
	}), nil
}

// respond answers the latest user message.
func (n *nodes) respond(ctx context.Context, s *domain.WorkflowState) (graph.Result, error) {
	var last *domain.Message
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			last = &s.Messages[i]
			break
		}
	}
	if last == nil {
		return graph.Continue(nil), nil
	}

	prompt := ports.Prompt{
		System: systemPrompt,
		User: "Proposal context:\n" + summaryOf(s.Research.Data) +
			"\n\nAnswer the applicant's message:\n" + last.Content,
		MaxTokens: 1024,
	}
	text, err := n.generate(ctx, NodeRespond, prompt)
	if err != nil {
		return graph.Continue(nil), err
	}
	return graph.Continue(&domain.Update{Messages: []domain.Message{{
		Role:      "assistant",
		Content:   strings.TrimSpace(text),
		Timestamp: time.Now().UTC(),
	}}}), nil
}
