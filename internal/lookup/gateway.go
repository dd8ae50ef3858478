package lookup

import (
	"context"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewGateway returns an HTTP/JSON mux that forwards to the LedgerLookup
// service on cc:
//
//	GET  /v1/ledger/{fingerprint}  -> Lookup
//	POST /v1/verify                -> Verify
func NewGateway(cc grpc.ClientConnInterface) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONPb{
			MarshalOptions: protojson.MarshalOptions{
				UseProtoNames:   true,
				EmitUnpopulated: false,
			},
			UnmarshalOptions: protojson.UnmarshalOptions{DiscardUnknown: true},
		}),
	)
	c := NewClient(cc)

	err := mux.HandlePath(http.MethodGet, "/v1/ledger/{fingerprint}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		in, err := structpb.NewStruct(map[string]any{"fingerprint": params["fingerprint"]})
		if err != nil {
			gatewayError(mux, w, r, status.Error(codes.InvalidArgument, err.Error()))
			return
		}
		forward(mux, w, r, methodLookup, "/v1/ledger/{fingerprint}", in, c.Lookup)
	})
	if err != nil {
		return nil, err
	}

	err = mux.HandlePath(http.MethodPost, "/v1/verify", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		inbound, _ := runtime.MarshalerForRequest(mux, r)
		in := new(structpb.Struct)
		if err := inbound.NewDecoder(r.Body).Decode(in); err != nil && err != io.EOF {
			gatewayError(mux, w, r, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
			return
		}
		forward(mux, w, r, methodVerify, "/v1/verify", in, c.Verify)
	})
	if err != nil {
		return nil, err
	}
	return mux, nil
}

type invokeFunc func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

// forward performs the gRPC call the way generated gateway handlers do:
// HTTP headers become metadata and response metadata is copied back.
func forward(mux *runtime.ServeMux, w http.ResponseWriter, r *http.Request, method, pattern string, in *structpb.Struct, call invokeFunc) {
	_, outbound := runtime.MarshalerForRequest(mux, r)
	ctx, err := runtime.AnnotateContext(r.Context(), mux, r, method, runtime.WithHTTPPathPattern(pattern))
	if err != nil {
		runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
		return
	}
	var md runtime.ServerMetadata
	resp, err := call(ctx, in, grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	ctx = runtime.NewServerMetadataContext(ctx, md)
	if err != nil {
		runtime.HTTPError(ctx, mux, outbound, w, r, err)
		return
	}
	runtime.ForwardResponseMessage(ctx, mux, outbound, w, r, resp)
}

func gatewayError(mux *runtime.ServeMux, w http.ResponseWriter, r *http.Request, err error) {
	_, outbound := runtime.MarshalerForRequest(mux, r)
	runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
}
