package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/osa030/nyxbox/internal/app/session"
	"github.com/osa030/nyxbox/internal/infra/config"
)

// AdminServiceName is the fully-qualified name of the AdminService.
const AdminServiceName = "nyxbox.v1.AdminService"

// AdminService procedures.
const (
	AdminRescanProcedure     = "/nyxbox.v1.AdminService/Rescan"
	AdminGetLibraryProcedure = "/nyxbox.v1.AdminService/GetLibrary"
	AdminLeaveProcedure      = "/nyxbox.v1.AdminService/Leave"
)

// AdminService implements the AdminService RPC.
type AdminService struct {
	session *session.Manager
	config  *config.Config
}

// NewAdminService creates a new AdminService.
func NewAdminService(session *session.Manager, cfg *config.Config) *AdminService {
	return &AdminService{
		session: session,
		config:  cfg,
	}
}

// Rescan reindexes the music library.
func (s *AdminService) Rescan(ctx context.Context, _ emptyRequest) (map[string]any, error) {
	added, err := s.session.Rescan(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"added": added,
		"total": s.session.LibrarySize(),
	}, nil
}

// GetLibrary returns library statistics.
func (s *AdminService) GetLibrary(context.Context, emptyRequest) (map[string]any, error) {
	return map[string]any{
		"total":     s.session.LibrarySize(),
		"connected": s.session.Status().SessionID != "",
	}, nil
}

// Leave forces the player to disconnect.
func (s *AdminService) Leave(context.Context, emptyRequest) (map[string]any, error) {
	if err := s.session.Leave(); err != nil {
		return nil, err
	}
	return map[string]any{"message": s.config.GetMessage("success")}, nil
}

// NewAdminServiceHandler builds an HTTP handler serving every AdminService procedure.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	handlers := map[string]http.Handler{
		AdminRescanProcedure:     unary(svc.config, AdminRescanProcedure, svc.Rescan, opts),
		AdminGetLibraryProcedure: unary(svc.config, AdminGetLibraryProcedure, svc.GetLibrary, opts),
		AdminLeaveProcedure:      unary(svc.config, AdminLeaveProcedure, svc.Leave, opts),
	}
	return "/" + AdminServiceName + "/", route(handlers)
}
