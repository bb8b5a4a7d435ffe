package connect

import (
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/nyxbox/internal/app/notification"
	"github.com/osa030/nyxbox/internal/app/player"
	"github.com/osa030/nyxbox/internal/app/prompt"
	"github.com/osa030/nyxbox/internal/app/queue"
	"github.com/osa030/nyxbox/internal/domain/track"
)

var validate = validator.New()

// fieldErrors maps request fields, by struct namespace, to the domain error a
// failed validation reports.
var fieldErrors = map[string]error{
	"selectRequest.Position": prompt.ErrInvalidSelection,
	"removeRequest.Position": queue.ErrIndexOutOfRange,
}

// decode converts a request payload into T and validates it. Failures are
// marked errInvalidRequest or the field's domain error.
func decode[T any](msg *structpb.Struct) (T, error) {
	var out T
	if msg == nil {
		msg = &structpb.Struct{}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return out, errors.Wrap(err, "failed to create decoder")
	}
	if err := dec.Decode(msg.AsMap()); err != nil {
		return out, errors.Mark(errors.Wrap(err, "malformed request"), errInvalidRequest)
	}
	if err := validate.Struct(&out); err != nil {
		return out, errors.Mark(errors.Wrap(err, "invalid request"), validationTarget(err))
	}
	return out, nil
}

func validationTarget(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if target, ok := fieldErrors[fe.StructNamespace()]; ok {
				return target
			}
		}
	}
	return errInvalidRequest
}

// reply wraps fields into a response message.
func reply(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode response"))
	}
	return connect.NewResponse(msg), nil
}

func entryValue(e track.Entry) map[string]any {
	return map[string]any{
		"title":   e.Title,
		"artist":  e.Artist,
		"locator": e.Locator,
	}
}

func entriesValue(entries []track.Entry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = entryValue(e)
	}
	return out
}

// candidatesValue numbers candidates from 1 and attaches their keycaps.
func candidatesValue(entries []track.Entry) []any {
	symbols := prompt.Symbols(len(entries))
	out := make([]any, len(entries))
	for i, e := range entries {
		v := entryValue(e)
		v["position"] = i + 1
		if i < len(symbols) {
			v["symbol"] = symbols[i]
		}
		out[i] = v
	}
	return out
}

func promptValue(p prompt.Prompt) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"requester":   p.Requester,
		"destination": p.Destination,
		"candidates":  candidatesValue(p.Candidates),
		"created_at":  p.CreatedAt.Format(time.RFC3339),
	}
}

func statusValue(st player.Status) map[string]any {
	v := map[string]any{
		"state":       st.State.String(),
		"session_id":  st.SessionID,
		"destination": st.Destination,
		"loop":        st.Loop,
		"volume":      st.Volume,
		"paused":      st.Paused,
		"queue":       entriesValue(st.Queue),
		"capacity":    st.Capacity,
	}
	if st.Current != nil {
		v["current"] = entryValue(*st.Current)
	}
	if st.LastError != nil {
		v["last_error"] = st.LastError.Error()
	}
	return v
}

func notificationValue(n *notification.Notification) (*structpb.Struct, error) {
	v := map[string]any{
		"sequence_no": n.SequenceNo,
		"type":        string(n.Type),
		"time":        n.Time.Format(time.RFC3339),
	}
	if n.SessionID != "" {
		v["session_id"] = n.SessionID
	}
	if n.Destination != "" {
		v["destination"] = n.Destination
	}
	if n.Entry != nil {
		v["entry"] = entryValue(*n.Entry)
	}
	if len(n.Candidates) > 0 {
		v["candidates"] = candidatesValue(n.Candidates)
	}
	if n.PromptID != "" {
		v["prompt_id"] = n.PromptID
	}
	if n.Position != 0 {
		v["position"] = n.Position
	}
	if n.Type == notification.TypePaused || n.Type == notification.TypeResumed {
		v["paused"] = n.Paused
	}
	if n.Reason != "" {
		v["reason"] = n.Reason
	}
	if n.Message != "" {
		v["message"] = n.Message
	}
	return structpb.NewStruct(v)
}
