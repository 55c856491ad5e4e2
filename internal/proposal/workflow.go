package proposal

import (
	"fmt"

	"github.com/aescanero/grantflow/internal/application/graph"
	"github.com/aescanero/grantflow/internal/application/interrupt"
	"github.com/aescanero/grantflow/pkg/domain"
	"go.uber.org/zap"
)

// Workflow is the assembled proposal graph and the tables the interrupt
// controller needs to route feedback through it.
type Workflow struct {
	Graph        *graph.Graph
	Routes       interrupt.Routes
	Dependencies *graph.DependencyMap
	MessageEntry string
	Catalog      *Catalog
}

// NewWorkflow builds the proposal workflow:
//
//	loadDocument -> analyze -> {research, solution} -> synthesize -> humanReview
//	  -> planSections -> writeSections -> sectionReview (loops) -> finalize
//
// respond is detached and handles conversation messages on idle threads.
func NewWorkflow(svc Services) (*Workflow, error) {
	if svc.Generator == nil || svc.Documents == nil {
		return nil, fmt.Errorf("%w: generator and document source are required", graph.ErrInvalidGraph)
	}
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	if svc.Catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		svc.Catalog = c
	}

	n := &nodes{
		generator: svc.Generator,
		documents: svc.Documents,
		catalog:   svc.Catalog,
		retry:     svc.Retry,
		logger:    svc.Logger.Named("proposal"),
	}

	g, err := graph.NewBuilder().
		AddNode(NodeLoadDocument, n.loadDocument).
		AddNode(NodeAnalyze, n.analyze).
		AddNode(NodeResearch, n.research).
		AddNode(NodeSolution, n.solution).
		AddJoin(NodeSynthesize, n.synthesize, []string{NodeResearch, NodeSolution}, graph.WithReady(analysisReady)).
		AddNode(NodeHumanReview, n.humanReview).
		AddNode(NodePlanSections, n.planSections).
		AddNode(NodeWriteSections, n.writeSections).
		AddNode(NodeSectionReview, n.sectionReview).
		AddNode(NodeFinalize, n.finalize).
		AddNode(NodeRespond, n.respond).
		AddConditionalEdges(NodeLoadDocument, routeAfterLoad, NodeAnalyze, graph.End).
		AddEdge(NodeAnalyze, NodeResearch).
		AddEdge(NodeAnalyze, NodeSolution).
		AddEdge(NodeResearch, NodeSynthesize).
		AddEdge(NodeSolution, NodeSynthesize).
		AddEdge(NodeSynthesize, NodeHumanReview).
		AddEdge(NodeHumanReview, NodePlanSections).
		AddEdge(NodePlanSections, NodeWriteSections).
		AddEdge(NodeWriteSections, NodeSectionReview).
		AddConditionalEdges(NodeSectionReview, routeAfterSectionReview, NodeSectionReview, NodeWriteSections, NodeFinalize, graph.End).
		AddEdge(NodeFinalize, graph.End).
		SetEntry(NodeLoadDocument).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build proposal graph: %w", err)
	}

	analysis := interrupt.Route{Generator: NodeAnalyze, Upstream: NodeLoadDocument}
	return &Workflow{
		Graph: g,
		Routes: interrupt.Routes{
			domain.ChannelResearch:    analysis,
			domain.ChannelSolution:    analysis,
			domain.ChannelConnections: analysis,
			interrupt.SectionRoute:    {Generator: NodeWriteSections, Upstream: NodePlanSections},
		},
		Dependencies: graph.FromDependsOn(svc.Catalog.DependsOn()),
		MessageEntry: NodeRespond,
		Catalog:      svc.Catalog,
	}, nil
}
