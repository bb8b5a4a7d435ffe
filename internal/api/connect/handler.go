package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/nyxbox/internal/infra/config"
)

// unary adapts a typed method to a Connect unary handler over generic
// struct payloads.
func unary[T any](
	cfg *config.Config,
	procedure string,
	fn func(context.Context, T) (map[string]any, error),
	opts []connect.HandlerOption,
) http.Handler {
	return connect.NewUnaryHandler(procedure, func(
		ctx context.Context,
		req *connect.Request[structpb.Struct],
	) (*connect.Response[structpb.Struct], error) {
		in, err := decode[T](req.Msg)
		if err != nil {
			return nil, toConnectError(cfg, procedure, err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, toConnectError(cfg, procedure, err)
		}
		return reply(out)
	}, opts...)
}

// route dispatches on the procedure path.
func route(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}
