package transport

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// InvokeJSON marshals req into a structpb.Struct, invokes method over conn,
// and unmarshals the structpb.Struct response into resp. arkd and tapd's
// actual wire protocols are out of scope for this gateway (per SPEC_FULL's
// Non-goals), so every call against them is carried this way instead of
// against hand-authored, daemon-specific protobuf service stubs.
func InvokeJSON(ctx context.Context, invoker func(ctx context.Context, method string, req, resp any) error, method string, req map[string]any, resp *map[string]any) error {
	reqStruct, err := structpb.NewStruct(req)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", method, err)
	}

	respStruct := &structpb.Struct{}
	if err := invoker(ctx, method, reqStruct, respStruct); err != nil {
		return err
	}

	*resp = respStruct.AsMap()
	return nil
}
