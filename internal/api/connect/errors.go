package connect

import (
	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nyxbox/internal/app/player"
	"github.com/osa030/nyxbox/internal/app/prompt"
	"github.com/osa030/nyxbox/internal/app/queue"
	"github.com/osa030/nyxbox/internal/app/session"
	"github.com/osa030/nyxbox/internal/domain/output"
	"github.com/osa030/nyxbox/internal/infra/catalog"
	"github.com/osa030/nyxbox/internal/infra/config"
)

// ErrorCodeHeader carries the message code of a failed request.
const ErrorCodeHeader = "Nyx-Error-Code"

// errInvalidRequest marks a payload that failed to decode or validate.
var errInvalidRequest = errors.New("invalid request")

type errorMapping struct {
	target error
	code   connect.Code
	msg    string // config message code
}

var errorMappings = []errorMapping{
	{target: queue.ErrQueueFull, code: connect.CodeResourceExhausted, msg: "queue_full"},
	{target: queue.ErrIndexOutOfRange, code: connect.CodeInvalidArgument, msg: "invalid_selection"},
	{target: session.ErrNoMatch, code: connect.CodeNotFound, msg: "no_match"},
	{target: catalog.ErrEmptyQuery, code: connect.CodeInvalidArgument, msg: "no_match"},
	{target: prompt.ErrNoPrompt, code: connect.CodeFailedPrecondition, msg: "no_prompt"},
	{target: prompt.ErrStalePrompt, code: connect.CodeAborted, msg: "stale_prompt"},
	{target: prompt.ErrInvalidSelection, code: connect.CodeInvalidArgument, msg: "invalid_selection"},
	{target: player.ErrInvalidVolume, code: connect.CodeInvalidArgument, msg: "invalid_volume"},
	{target: player.ErrNotConnected, code: connect.CodeFailedPrecondition, msg: "not_connected"},
	{target: player.ErrNotPlaying, code: connect.CodeFailedPrecondition, msg: "not_playing"},
	{target: player.ErrAlreadyInChannel, code: connect.CodeAlreadyExists, msg: "already_joined"},
	{target: player.ErrNoDestination, code: connect.CodeInvalidArgument, msg: "no_destination"},
	{target: output.ErrPermissionDenied, code: connect.CodePermissionDenied, msg: "permission_denied"},
	{target: errInvalidRequest, code: connect.CodeInvalidArgument, msg: "invalid_request"},
}

// toConnectError converts a handler error into a Connect error carrying the
// configured user-facing message.
func toConnectError(cfg *config.Config, procedure string, err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			zlog.Debug().Msgf("api: request rejected: procedure=%s code=%s err=%v", procedure, m.msg, err)
			e := connect.NewError(m.code, errors.New(cfg.GetMessage(m.msg)))
			e.Meta().Set(ErrorCodeHeader, m.msg)
			return e
		}
	}

	zlog.Error().Msgf("api: request failed: procedure=%s err=%v", procedure, err)
	e := connect.NewError(connect.CodeInternal, errors.New(cfg.GetMessage("default_error")))
	e.Meta().Set(ErrorCodeHeader, "default_error")
	return e
}
