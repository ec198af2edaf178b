package simclient

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
)

// #region helpers
type scriptedServer struct {
	resp *structpb.Struct
	err  error
	last *structpb.Struct
	wait time.Duration
}

func (s *scriptedServer) Replay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.last = req
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}
	return s.resp, s.err
}

func serve(t *testing.T, srv SimulatorServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterSimulatorServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// #endregion helpers

var _ sandbox.Simulator = (*Client)(nil)

func TestSimulateRoundTrip(t *testing.T) {
	srv := &scriptedServer{resp: mustStruct(t, map[string]any{"passed": true, "score": 0.66})}
	c := serve(t, srv)

	passed, score, err := c.Simulate(context.Background(), "fork", "fork-a-v1", map[string]any{
		"weights": map[string]any{"a": 0.5, "b": 0.5},
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !passed || score != 0.66 {
		t.Fatalf("unexpected verdict %v %v", passed, score)
	}
	if got := srv.last.GetFields()["kind"].GetStringValue(); got != "fork" {
		t.Fatalf("kind not forwarded: %q", got)
	}
	w := srv.last.GetFields()["payload"].GetStructValue().GetFields()["weights"].GetStructValue()
	if w.GetFields()["a"].GetNumberValue() != 0.5 {
		t.Fatalf("weights not forwarded: %v", w)
	}
}

func TestSimulateMissingPassed(t *testing.T) {
	c := serve(t, &scriptedServer{resp: mustStruct(t, map[string]any{"score": 0.1})})
	if _, _, err := c.Simulate(context.Background(), "mutation", "m1", nil); err == nil {
		t.Fatal("expected error for response without passed")
	}
}

func TestSimulateServerError(t *testing.T) {
	c := serve(t, &scriptedServer{err: status.Error(codes.Unavailable, "down")})
	_, _, err := c.Simulate(context.Background(), "mutation", "m1", nil)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestSimulateDeadlineFailsClosedThroughGate(t *testing.T) {
	c := serve(t, &scriptedServer{
		resp: mustStruct(t, map[string]any{"passed": true, "score": 1}),
		wait: time.Second,
	})
	gate := sandbox.NewGate(sandbox.Remote{Sim: c}, sandbox.GateConfig{Timeout: 50 * time.Millisecond}, nil, nil)

	v := gate.Evaluate(context.Background(), sandbox.Candidate{ID: "slow", Kind: sandbox.KindMutation})

	if v.Passed {
		t.Fatal("slow simulator must fail closed")
	}
}

func TestStochasticSimulator(t *testing.T) {
	c := serve(t, NewStochasticSimulator(4, 1))
	ctx := context.Background()

	passed, _, err := c.Simulate(ctx, "mutation", "m1", map[string]any{"strategy": "x"})
	if err != nil || !passed {
		t.Fatalf("pass rate 1 should pass: %v %v", passed, err)
	}
	passed, _, err = c.Simulate(ctx, "fork", "f1", map[string]any{
		"weights": map[string]any{"a": 0.7, "b": 0.7},
	})
	if err != nil || passed {
		t.Fatalf("unnormalized weights must fail: %v %v", passed, err)
	}
	if _, _, err := c.Simulate(ctx, "fork", "", nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestStochasticSimulatorDeterministic(t *testing.T) {
	a, b := NewStochasticSimulator(8, 0.5), NewStochasticSimulator(8, 0.5)
	req := mustStruct(t, map[string]any{"id": "x"})
	for i := 0; i < 20; i++ {
		ra, _ := a.Replay(context.Background(), req)
		rb, _ := b.Replay(context.Background(), req)
		if ra.GetFields()["score"].GetNumberValue() != rb.GetFields()["score"].GetNumberValue() {
			t.Fatalf("diverged at %d", i)
		}
	}
}
