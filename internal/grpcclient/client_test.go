package grpcclient

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"awareness-svr/internal/observability"
	"awareness-svr/internal/position"
)

type fakeForwarder struct {
	mu   sync.Mutex
	reqs []*structpb.Struct
}

func (f *fakeForwarder) sendData(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, in)
	f.mu.Unlock()
	return structpb.NewStruct(map[string]any{"success": true})
}

var forwarderDesc = grpc.ServiceDesc{
	ServiceName: "forwarder.Forwarder",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "SendData",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(*fakeForwarder).sendData(ctx, in)
		},
	}},
}

func startServer(t *testing.T) (*fakeForwarder, *Forwarder) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	fake := &fakeForwarder{}
	srv.RegisterService(&forwarderDesc, fake)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	fw, err := NewForwarder("passthrough:///bufnet", observability.Discard(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Close() })
	return fake, fw
}

func TestRecordForwardsFix(t *testing.T) {
	fake, fw := startServer(t)

	p := position.New("alpha", position.NewLocation(41.1, -8.6), time.UnixMilli(1_700_000_000_000))
	p.Type = "Ship"
	require.NoError(t, fw.Record(context.Background(), p))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.reqs, 1)
	fields := fake.reqs[0].GetFields()
	assert.Equal(t, "alpha", fields["device_id"].GetStringValue())

	var f position.Fix
	require.NoError(t, json.Unmarshal([]byte(fields["payload"].GetStringValue()), &f))
	assert.Equal(t, int64(1_700_000_000_000), f.Timestamp)
	assert.Equal(t, "Ship", f.Type)
	assert.Equal(t, "grpc-forwarder", fw.Name())
}

func TestSendDataUnavailable(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	_ = lis.Close()
	fw, err := NewForwarder("passthrough:///bufnet", observability.Discard(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	defer fw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, fw.SendData(ctx, "alpha", "{}"))
}
