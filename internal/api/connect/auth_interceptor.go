package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nyxbox/internal/infra/config"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

var errBadToken = errors.New("invalid admin token")

// NewAdminAuthInterceptor creates an interceptor that validates admin tokens
// from request metadata for AdminService methods.
func NewAdminAuthInterceptor(cfg *config.Config) connect.UnaryInterceptorFunc {
	want := []byte(cfg.Admin.Token)
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			token := req.Header().Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				zlog.Warn().Msgf("api: admin auth failed: procedure=%s peer=%s", req.Spec().Procedure, req.Peer().Addr)
				return nil, connect.NewError(connect.CodeUnauthenticated, errBadToken)
			}
			return next(ctx, req)
		}
	}
}
