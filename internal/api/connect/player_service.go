// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/nyxbox/internal/app/notification"
	"github.com/osa030/nyxbox/internal/app/prompt"
	"github.com/osa030/nyxbox/internal/app/session"
	"github.com/osa030/nyxbox/internal/infra/config"
)

// PlayerServiceName is the fully-qualified name of the PlayerService.
const PlayerServiceName = "nyxbox.v1.PlayerService"

// PlayerService procedures.
const (
	PlayerPlayProcedure            = "/nyxbox.v1.PlayerService/Play"
	PlayerSelectProcedure          = "/nyxbox.v1.PlayerService/Select"
	PlayerCancelSelectionProcedure = "/nyxbox.v1.PlayerService/CancelSelection"
	PlayerSearchProcedure          = "/nyxbox.v1.PlayerService/Search"
	PlayerJoinProcedure            = "/nyxbox.v1.PlayerService/Join"
	PlayerLeaveProcedure           = "/nyxbox.v1.PlayerService/Leave"
	PlayerSkipProcedure            = "/nyxbox.v1.PlayerService/Skip"
	PlayerStopProcedure            = "/nyxbox.v1.PlayerService/Stop"
	PlayerPauseProcedure           = "/nyxbox.v1.PlayerService/Pause"
	PlayerResumeProcedure          = "/nyxbox.v1.PlayerService/Resume"
	PlayerTogglePauseProcedure     = "/nyxbox.v1.PlayerService/TogglePause"
	PlayerSetVolumeProcedure       = "/nyxbox.v1.PlayerService/SetVolume"
	PlayerGetVolumeProcedure       = "/nyxbox.v1.PlayerService/GetVolume"
	PlayerToggleLoopProcedure      = "/nyxbox.v1.PlayerService/ToggleLoop"
	PlayerShuffleProcedure         = "/nyxbox.v1.PlayerService/Shuffle"
	PlayerRemoveProcedure          = "/nyxbox.v1.PlayerService/Remove"
	PlayerGetStatusProcedure       = "/nyxbox.v1.PlayerService/GetStatus"
	PlayerSubscribeProcedure       = "/nyxbox.v1.PlayerService/SubscribeNotifications"
)

type playRequest struct {
	Requester   string `mapstructure:"requester" validate:"required"`
	Destination string `mapstructure:"destination"`
	Query       string `mapstructure:"query" validate:"required"`
}

// selectRequest picks a candidate by 1-based position or by keycap symbol.
type selectRequest struct {
	PromptID string `mapstructure:"prompt_id" validate:"required"`
	Position int    `mapstructure:"position" validate:"omitempty,gte=1,lte=9"`
	Symbol   string `mapstructure:"symbol"`
}

type promptRequest struct {
	PromptID string `mapstructure:"prompt_id" validate:"required"`
}

type searchRequest struct {
	Query string `mapstructure:"query" validate:"required"`
}

type joinRequest struct {
	Destination string `mapstructure:"destination"`
}

type volumeRequest struct {
	Percent *int `mapstructure:"percent" validate:"required"`
}

type removeRequest struct {
	Position int `mapstructure:"position" validate:"gte=1"`
}

type emptyRequest struct{}

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	session *session.Manager
	config  *config.Config
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(session *session.Manager, cfg *config.Config) *PlayerService {
	return &PlayerService{
		session: session,
		config:  cfg,
	}
}

// Play handles play requests.
func (s *PlayerService) Play(ctx context.Context, req playRequest) (map[string]any, error) {
	res, err := s.session.Play(ctx, session.Requester{Name: req.Requester, Destination: req.Destination}, req.Query)
	if err != nil {
		return nil, err
	}
	return playResultValue(res), nil
}

// Select handles selection events for the open prompt.
func (s *PlayerService) Select(ctx context.Context, req selectRequest) (map[string]any, error) {
	var (
		res session.PlayResult
		err error
	)
	switch {
	case req.Symbol != "":
		res, err = s.session.SelectSymbol(ctx, req.PromptID, req.Symbol)
	case req.Position > 0:
		res, err = s.session.Select(ctx, req.PromptID, req.Position-1)
	default:
		err = prompt.ErrInvalidSelection
	}
	if err != nil {
		return nil, err
	}
	return playResultValue(res), nil
}

// CancelSelection discards the open prompt.
func (s *PlayerService) CancelSelection(_ context.Context, req promptRequest) (map[string]any, error) {
	if err := s.session.CancelSelection(req.PromptID); err != nil {
		return nil, err
	}
	return s.ok(), nil
}

// Search lists matches without queueing.
func (s *PlayerService) Search(ctx context.Context, req searchRequest) (map[string]any, error) {
	matches, err := s.session.Search(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": candidatesValue(matches)}, nil
}

// Join connects the player.
func (s *PlayerService) Join(ctx context.Context, req joinRequest) (map[string]any, error) {
	if err := s.session.Join(ctx, req.Destination); err != nil {
		return nil, err
	}
	return s.ok(), nil
}

// Leave disconnects the player.
func (s *PlayerService) Leave(context.Context, emptyRequest) (map[string]any, error) {
	return s.result(s.session.Leave())
}

// Skip skips the current song.
func (s *PlayerService) Skip(context.Context, emptyRequest) (map[string]any, error) {
	return s.result(s.session.Skip())
}

// Stop clears the queue and stops the current song.
func (s *PlayerService) Stop(context.Context, emptyRequest) (map[string]any, error) {
	return s.result(s.session.Stop())
}

// Pause pauses playback.
func (s *PlayerService) Pause(context.Context, emptyRequest) (map[string]any, error) {
	return s.result(s.session.Pause())
}

// Resume resumes playback.
func (s *PlayerService) Resume(context.Context, emptyRequest) (map[string]any, error) {
	return s.result(s.session.Resume())
}

// TogglePause pauses or resumes playback.
func (s *PlayerService) TogglePause(context.Context, emptyRequest) (map[string]any, error) {
	paused, err := s.session.TogglePause()
	if err != nil {
		return nil, err
	}
	return map[string]any{"paused": paused}, nil
}

// SetVolume sets the volume percent.
func (s *PlayerService) SetVolume(_ context.Context, req volumeRequest) (map[string]any, error) {
	if err := s.session.SetVolume(*req.Percent); err != nil {
		return nil, err
	}
	return map[string]any{"percent": s.session.Volume()}, nil
}

// GetVolume returns the volume percent.
func (s *PlayerService) GetVolume(context.Context, emptyRequest) (map[string]any, error) {
	return map[string]any{"percent": s.session.Volume()}, nil
}

// ToggleLoop flips repeat of the current song.
func (s *PlayerService) ToggleLoop(context.Context, emptyRequest) (map[string]any, error) {
	return map[string]any{"loop": s.session.ToggleLoop()}, nil
}

// Shuffle shuffles the pending songs.
func (s *PlayerService) Shuffle(context.Context, emptyRequest) (map[string]any, error) {
	return map[string]any{"queue": entriesValue(s.session.Shuffle())}, nil
}

// Remove removes the pending song at a 1-based position.
func (s *PlayerService) Remove(_ context.Context, req removeRequest) (map[string]any, error) {
	e, err := s.session.Remove(req.Position - 1)
	if err != nil {
		return nil, err
	}
	return map[string]any{"removed": entryValue(e)}, nil
}

// GetStatus returns the player status and any open prompt.
func (s *PlayerService) GetStatus(context.Context, emptyRequest) (map[string]any, error) {
	v := statusValue(s.session.Status())
	if p, ok := s.session.PendingPrompt(); ok {
		v["prompt"] = promptValue(p)
	}
	return v, nil
}

// SubscribeNotifications streams notifications until the client goes away
// or the server shuts down. The first message is the current status.
func (s *PlayerService) SubscribeNotifications(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	notifManager := s.session.Notifications()

	initial := statusValue(s.session.Status())
	initial["type"] = "initial_state"
	initial["sequence_no"] = notifManager.SequenceNo()
	msg, err := structpb.NewStruct(initial)
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	if err := stream.Send(msg); err != nil {
		return err
	}

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(adapter)
	defer notifManager.Unsubscribe(subscriptionID)
	// The stream is invalid once the handler returns.
	defer adapter.close()

	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	return nil
}

// NewPlayerServiceHandler builds an HTTP handler that serves every
// PlayerService procedure, in the shape of generated Connect code.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	handlers := map[string]http.Handler{
		PlayerPlayProcedure:            unary(svc.config, PlayerPlayProcedure, svc.Play, opts),
		PlayerSelectProcedure:          unary(svc.config, PlayerSelectProcedure, svc.Select, opts),
		PlayerCancelSelectionProcedure: unary(svc.config, PlayerCancelSelectionProcedure, svc.CancelSelection, opts),
		PlayerSearchProcedure:          unary(svc.config, PlayerSearchProcedure, svc.Search, opts),
		PlayerJoinProcedure:            unary(svc.config, PlayerJoinProcedure, svc.Join, opts),
		PlayerLeaveProcedure:           unary(svc.config, PlayerLeaveProcedure, svc.Leave, opts),
		PlayerSkipProcedure:            unary(svc.config, PlayerSkipProcedure, svc.Skip, opts),
		PlayerStopProcedure:            unary(svc.config, PlayerStopProcedure, svc.Stop, opts),
		PlayerPauseProcedure:           unary(svc.config, PlayerPauseProcedure, svc.Pause, opts),
		PlayerResumeProcedure:          unary(svc.config, PlayerResumeProcedure, svc.Resume, opts),
		PlayerTogglePauseProcedure:     unary(svc.config, PlayerTogglePauseProcedure, svc.TogglePause, opts),
		PlayerSetVolumeProcedure:       unary(svc.config, PlayerSetVolumeProcedure, svc.SetVolume, opts),
		PlayerGetVolumeProcedure:       unary(svc.config, PlayerGetVolumeProcedure, svc.GetVolume, opts),
		PlayerToggleLoopProcedure:      unary(svc.config, PlayerToggleLoopProcedure, svc.ToggleLoop, opts),
		PlayerShuffleProcedure:         unary(svc.config, PlayerShuffleProcedure, svc.Shuffle, opts),
		PlayerRemoveProcedure:          unary(svc.config, PlayerRemoveProcedure, svc.Remove, opts),
		PlayerGetStatusProcedure:       unary(svc.config, PlayerGetStatusProcedure, svc.GetStatus, opts),
		PlayerSubscribeProcedure:       connect.NewServerStreamHandler(PlayerSubscribeProcedure, svc.SubscribeNotifications, opts...),
	}
	return "/" + PlayerServiceName + "/", route(handlers)
}

func (s *PlayerService) ok() map[string]any {
	return map[string]any{"message": s.config.GetMessage("success")}
}

func (s *PlayerService) result(err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return s.ok(), nil
}

func playResultValue(res session.PlayResult) map[string]any {
	if res.Prompt != nil {
		return map[string]any{
			"queued": false,
			"prompt": promptValue(*res.Prompt),
		}
	}
	return map[string]any{
		"queued":   true,
		"entry":    entryValue(res.Entry),
		"position": res.Position,
	}
}

type structSender interface {
	Send(*structpb.Struct) error
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized and dropped after close.
type notificationStreamAdapter struct {
	stream structSender

	mu     sync.Mutex
	closed bool
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	msg, err := notificationValue(n)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	return a.stream.Send(msg)
}

func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
