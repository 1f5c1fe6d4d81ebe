package models

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"securo/internal/pipeline"
)

// InferMethod is the unary RPC serving detections.
// Request and response are google.protobuf.Struct messages.
const InferMethod = "/securo.inference.v1.ModelService/Infer"

// GRPCEngine runs models on a remote inference service over gRPC.
// Model readiness is reported through the standard health service, one service name per model.
type GRPCEngine struct {
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
}

// NewGRPCEngine connects to endpoint. Extra dial options are appended to the defaults.
func NewGRPCEngine(endpoint string, opts ...grpc.DialOption) (*GRPCEngine, error) {
	// Detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to inference service: %w", err)
	}

	log.Printf("[GRPCEngine] Using inference service at %s", endpoint)
	return &GRPCEngine{
		endpoint: endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
	}, nil
}

// Load asks the health service whether modelID is being served
func (e *GRPCEngine) Load(ctx context.Context, modelID string, weights Weights) (pipeline.Detector, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{Service: modelID})
	if err != nil {
		return nil, fmt.Errorf("%w: health check for %s: %v", pipeline.ErrModelUnavailable, modelID, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return nil, fmt.Errorf("%w: %s is %s", pipeline.ErrModelUnavailable, modelID, resp.GetStatus())
	}
	return &grpcDetector{engine: e, model: modelID, weights: weights}, nil
}

// Close closes the connection
func (e *GRPCEngine) Close() error {
	return e.conn.Close()
}

type grpcDetector struct {
	engine  *GRPCEngine
	model   string
	weights Weights
}

func (d *grpcDetector) Name() string { return d.model }

// Infer sends one frame and converts the returned detections
func (d *grpcDetector) Infer(ctx context.Context, frame *pipeline.Frame) ([]pipeline.Detection, error) {
	req, err := structpb.NewStruct(map[string]any{
		"model":     d.model,
		"weights":   d.weights.Location(),
		"camera_id": frame.CameraID,
		"frame_seq": float64(frame.Seq),
		"image":     base64.StdEncoding.EncodeToString(frame.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: build request: %v", pipeline.ErrInference, d.model, err)
	}

	resp := &structpb.Struct{}
	if err := d.engine.conn.Invoke(ctx, InferMethod, req, resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrInference, d.model, err)
	}

	return detectionsFromStruct(d.model, resp)
}

// detectionsFromStruct reads {"detections":[{"label","confidence","bbox":[x1,y1,x2,y2]}]}
func detectionsFromStruct(model string, resp *structpb.Struct) ([]pipeline.Detection, error) {
	list := resp.GetFields()["detections"].GetListValue()
	if list == nil {
		return nil, nil
	}

	detections := make([]pipeline.Detection, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("%w: %s: detection %d is not an object", pipeline.ErrInference, model, i)
		}

		det := pipeline.Detection{
			Model:      model,
			Label:      fields["label"].GetStringValue(),
			Confidence: float32(fields["confidence"].GetNumberValue()),
		}
		if box := fields["bbox"].GetListValue().GetValues(); len(box) >= 4 {
			det.BBox = pipeline.BBox{
				X1: float32(box[0].GetNumberValue()),
				Y1: float32(box[1].GetNumberValue()),
				X2: float32(box[2].GetNumberValue()),
				Y2: float32(box[3].GetNumberValue()),
			}
		}
		detections = append(detections, det)
	}
	return detections, nil
}

// Ensure GRPCEngine implements Engine
var _ Engine = (*GRPCEngine)(nil)
