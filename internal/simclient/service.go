package simclient

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
const (
	ServiceName  = "mutationlab.sim.v1.Simulator"
	ReplayMethod = "/" + ServiceName + "/Replay"
)

// SimulatorServer replays one candidate scenario. The request carries
// kind, id and payload; the response carries passed and score.
type SimulatorServer interface {
	Replay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Simulator service for grpc registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Replay", Handler: replayHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mutationlab/sim/v1/simulator.proto",
}

// RegisterSimulatorServer registers srv on s.
func RegisterSimulatorServer(s grpc.ServiceRegistrar, srv SimulatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func replayHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SimulatorServer).Replay(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReplayMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SimulatorServer).Replay(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region stochastic-simulator
// StochasticSimulator is a serving backend that scores scenarios with a
// seeded uniform draw. Fork payloads whose weights do not sum to 1 always
// fail.
type StochasticSimulator struct {
	PassRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStochasticSimulator seeds a simulator passing roughly passRate of
// well-formed scenarios.
func NewStochasticSimulator(seed uint64, passRate float64) *StochasticSimulator {
	return &StochasticSimulator{PassRate: passRate, rng: rand.New(rand.NewPCG(seed, 29))}
}

func (s *StochasticSimulator) Replay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	fields := req.GetFields()
	if fields["id"].GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "scenario id is required")
	}

	s.mu.Lock()
	score := s.rng.Float64()
	s.mu.Unlock()

	passed := score > 1-s.PassRate
	if w := fields["payload"].GetStructValue().GetFields()["weights"].GetStructValue(); w != nil {
		var sum float64
		for _, v := range w.GetFields() {
			sum += v.GetNumberValue()
		}
		if math.Abs(sum-1) > 1e-6 {
			passed = false
		}
	}

	return structpb.NewStruct(map[string]any{
		"passed": passed,
		"score":  score,
	})
}

// #endregion stochastic-simulator
