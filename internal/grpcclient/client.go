package grpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"awareness-svr/internal/position"
)

// SendDataMethod is the upstream forwarder RPC. Requests carry
// {device_id, payload}; responses carry {success}.
const SendDataMethod = "/forwarder.Forwarder/SendData"

const sendTimeout = 5 * time.Second

// Forwarder mirrors every stored fix to an upstream gRPC forwarder.
type Forwarder struct {
	conn   *grpc.ClientConn
	logger *slog.Logger
}

func NewForwarder(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*Forwarder, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc forwarder %s: %w", addr, err)
	}
	return &Forwarder{conn: conn, logger: logger.With("component", "grpc-forwarder")}, nil
}

func (g *Forwarder) Close() error {
	return g.conn.Close()
}

func (g *Forwarder) Name() string { return "grpc-forwarder" }

// Record sends p as a JSON payload keyed by its asset name.
func (g *Forwarder) Record(ctx context.Context, p position.Position) error {
	payload, err := json.Marshal(p.Fix())
	if err != nil {
		return err
	}
	return g.SendData(ctx, p.Asset, string(payload))
}

func (g *Forwarder) SendData(ctx context.Context, deviceID, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"device_id": deviceID,
		"payload":   payload,
	})
	if err != nil {
		return err
	}
	res := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, SendDataMethod, req, res); err != nil {
		return err
	}
	if !res.GetFields()["success"].GetBoolValue() {
		g.logger.Warn("forwarder rejected data", "device", deviceID)
	}
	return nil
}
