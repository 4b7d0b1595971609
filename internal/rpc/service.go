// Package rpc expresses the Coordinator -> Worker semantic contract
//: the wire format is explicitly out of scope ("semantic
// contract only; wire format delegated"), so this package defines the
// operations as a plain Go interface returning grpc status errors, the
// same Ack|Error vocabulary a real gRPC service would use, without
// generating or depending on a .proto-derived service stub.
package rpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/bufferpool"
	"github.com/nebulastream/worker-core/internal/errs"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/pipeline"
	"github.com/nebulastream/worker-core/internal/querymanager"
	"github.com/nebulastream/worker-core/internal/sink"
	"github.com/nebulastream/worker-core/internal/source"
)

// SerializedPlan is the opaque plan payload a coordinator sends with
// registerDecomposedQueryPlan; deserialization into concrete
// NodeSpecs is left to whatever plan format the deployment chooses, via
// NodeFactory.
type SerializedPlan struct {
	Nodes []NodeDescriptor
}

// NodeDescriptor is one node of a SerializedPlan: a type tag plus an
// opaque descriptor, resolved to a concrete component via the factory
// registered for that tag.
type NodeDescriptor struct {
	ID         string
	Kind       NodeKind
	TypeTag    string
	Descriptor any
	Schema     buffer.Schema
	Successors []string
}

type NodeKind int

const (
	KindSource NodeKind = iota
	KindStage
	KindSink
)

// QueryContext is handed to a factory alongside the descriptor and pool
// (§6 factory contract: "create(descriptor, pool, schema, query_ctx)").
type QueryContext struct {
	QueryID      string
	DecomposedID string
	Version      uint64

	// EnableLeakTracking mirrors the Manager's §6 enableLeakTracking
	// option, for factories that construct Buffer Control Blocks.
	EnableLeakTracking bool
}

// SourceFactory and SinkFactory implement the §6 factory contract for
// the descriptor type tags they are registered under.
type SourceFactory func(descriptor any, pool *bufferpool.Pool, schema buffer.Schema, qctx QueryContext) (source.Source, error)
type SinkFactory func(descriptor any, pool *bufferpool.Pool, schema buffer.Schema, qctx QueryContext) (sink.Sink, error)
type StageFactory func(descriptor any, qctx QueryContext) (pipeline.Stage, error)

// Registry resolves a plan's type tags to concrete source/sink/stage
// factories, implementing §6's "opaque to the core" descriptor
// contract: the core never inspects a descriptor's shape, only its
// type tag.
type Registry struct {
	Sources map[string]SourceFactory
	Sinks   map[string]SinkFactory
	Stages  map[string]StageFactory
}

// NewRegistry returns an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		Sources: make(map[string]SourceFactory),
		Sinks:   make(map[string]SinkFactory),
		Stages:  make(map[string]StageFactory),
	}
}

// WorkerService is the semantic contract of §6, independent of
// transport: a coordinator drives a worker exclusively through these
// operations.
type WorkerService interface {
	RegisterDecomposedQueryPlan(ctx context.Context, sharedQueryID, decomposedID string, version uint64, plan SerializedPlan) error
	StartQuery(ctx context.Context, sharedQueryID, decomposedID string) error
	StopQuery(ctx context.Context, sharedQueryID, decomposedID string, terminationType TerminationType) error
	UnregisterQuery(ctx context.Context, sharedQueryID, decomposedID string) error
	UpdateNetworkSink(ctx context.Context, sharedQueryID, decomposedID, sinkDescriptorID string, newEndpoint any) error
	InjectReconfigurationMarker(ctx context.Context, sharedQueryID, decomposedID string, markerMetadata any) (*eventloop.Future[struct{}], error)
}

// TerminationType mirrors stopQuery's terminationType ∈ {Graceful, Hard}
//.
type TerminationType int

const (
	Graceful TerminationType = iota
	Hard
)

// Server is the worker-side WorkerService implementation, translating
// each RPC into the corresponding Query Manager operation and mapping
// internal errors onto grpc codes (§6, §7: "No stack traces leave the
// worker via RPC").
type Server struct {
	manager  *querymanager.Manager
	registry *Registry
}

// NewServer wraps a Query Manager as a WorkerService, resolving plan
// node descriptors via registry (§6 factory contract).
func NewServer(manager *querymanager.Manager, registry *Registry) *Server {
	return &Server{manager: manager, registry: registry}
}

var _ WorkerService = (*Server)(nil)

func (s *Server) RegisterDecomposedQueryPlan(ctx context.Context, sharedQueryID, decomposedID string, version uint64, plan SerializedPlan) error {
	qctx := QueryContext{QueryID: sharedQueryID, DecomposedID: decomposedID, Version: version, EnableLeakTracking: s.manager.LeakTrackingEnabled()}
	pool := s.manager.Pool()

	specs := make([]querymanager.NodeSpec, 0, len(plan.Nodes))
	for _, nd := range plan.Nodes {
		spec := querymanager.NodeSpec{ID: nd.ID, Successors: nd.Successors}
		switch nd.Kind {
		case KindSource:
			factory, ok := s.registry.Sources[nd.TypeTag]
			if !ok {
				return status.Errorf(codes.InvalidArgument, "rpc: no source factory registered for %q", nd.TypeTag)
			}
			src, err := factory(nd.Descriptor, pool, nd.Schema, qctx)
			if err != nil {
				return status.Errorf(codes.InvalidArgument, "rpc: source factory %q: %v", nd.TypeTag, err)
			}
			spec.Source = src
		case KindSink:
			factory, ok := s.registry.Sinks[nd.TypeTag]
			if !ok {
				return status.Errorf(codes.InvalidArgument, "rpc: no sink factory registered for %q", nd.TypeTag)
			}
			snk, err := factory(nd.Descriptor, pool, nd.Schema, qctx)
			if err != nil {
				return status.Errorf(codes.InvalidArgument, "rpc: sink factory %q: %v", nd.TypeTag, err)
			}
			spec.Sink = snk
		default:
			factory, ok := s.registry.Stages[nd.TypeTag]
			if !ok {
				return status.Errorf(codes.InvalidArgument, "rpc: no stage factory registered for %q", nd.TypeTag)
			}
			stg, err := factory(nd.Descriptor, qctx)
			if err != nil {
				return status.Errorf(codes.InvalidArgument, "rpc: stage factory %q: %v", nd.TypeTag, err)
			}
			spec.Stage = stg
		}
		specs = append(specs, spec)
	}

	if err := s.manager.Deploy(sharedQueryID, decomposedID, version, specs); err != nil {
		return toStatus(err)
	}
	return nil
}

func (s *Server) StartQuery(ctx context.Context, sharedQueryID, decomposedID string) error {
	if err := s.manager.Start(ctx, sharedQueryID, decomposedID); err != nil {
		return toStatus(err)
	}
	return nil
}

func (s *Server) StopQuery(ctx context.Context, sharedQueryID, decomposedID string, terminationType TerminationType) error {
	mode := querymanager.Graceful
	if terminationType == Hard {
		mode = querymanager.Hard
	}
	if err := s.manager.Stop(sharedQueryID, decomposedID, mode); err != nil {
		return toStatus(err)
	}
	return nil
}

func (s *Server) UnregisterQuery(ctx context.Context, sharedQueryID, decomposedID string) error {
	if err := s.manager.Stop(sharedQueryID, decomposedID, querymanager.Hard); err != nil {
		return toStatus(err)
	}
	return nil
}

func (s *Server) UpdateNetworkSink(ctx context.Context, sharedQueryID, decomposedID, sinkDescriptorID string, newEndpoint any) error {
	if err := s.manager.UpdateNetworkSink(sharedQueryID, decomposedID, sinkDescriptorID, newEndpoint); err != nil {
		return toStatus(err)
	}
	return nil
}

func (s *Server) InjectReconfigurationMarker(ctx context.Context, sharedQueryID, decomposedID string, markerMetadata any) (*eventloop.Future[struct{}], error) {
	fut, err := s.manager.Reconfigure(sharedQueryID, decomposedID, markerMetadata)
	if err != nil {
		return nil, toStatus(err)
	}
	return fut, nil
}

// toStatus maps the internal error taxonomy onto grpc codes,
// never forwarding anything beyond the short reason string.
func toStatus(err error) error {
	switch {
	case err == errs.ErrQueryNotFound:
		return status.Error(codes.NotFound, err.Error())
	case err == errs.ErrQueryAlreadyRegistered:
		return status.Error(codes.AlreadyExists, err.Error())
	case err == errs.ErrManagerShuttingDown:
		return status.Error(codes.Unavailable, err.Error())
	case err == errs.ErrOutOfMemory:
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		var qerr *errs.QueryError
		if asQueryError(err, &qerr) {
			return status.Error(codes.Internal, qerr.Reason())
		}
		return status.Error(codes.Unknown, err.Error())
	}
}

func asQueryError(err error, target **errs.QueryError) bool {
	qe, ok := err.(*errs.QueryError)
	if ok {
		*target = qe
	}
	return ok
}
