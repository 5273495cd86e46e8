// Package server wires the HTTP surface of the enforcement service. All
// data-plane routes sit behind the auth middleware; the only routes
// outside it are version, readiness, and the signed object download
// path, which carries its own scoped token.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/httpx"
	commonmiddleware "github.com/fenceline/fenceline/internal/common/middleware"
	"github.com/fenceline/fenceline/internal/guardsrv/auth"
	"github.com/fenceline/fenceline/internal/guardsrv/auth/keymanager"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

type GuardServer struct {
	Router *chi.Mux
	km     keymanager.KeyManager
}

func CreateNewServer() (*GuardServer, error) {
	s := &GuardServer{}
	s.Router = chi.NewRouter()
	s.km = keymanager.GetKeyManager()
	return s, nil
}

func (s *GuardServer) MountHandlers() {
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	s.Router.Use(commonmiddleware.SetTimeout(config.Config().GetRequestTimeout()))
	if config.Config().HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins: config.Config().CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
			MaxAge:         300,
		}))
	}
	s.Router.Use(db.LoadScopedDBMiddleware)

	s.Router.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		mountRecordHandlers(r)
		mountSearchHandlers(r)
		mountObjectHandlers(r)
	})

	s.Router.Get("/download/{container}/*", downloadObject)
	s.Router.Get("/version", s.getVersion)
	s.Router.Get("/ready", s.getReadiness)
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *GuardServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: "Fenceline Guard Server: " + guardcommon.ServerVersion,
		ApiVersion:    guardcommon.ApiVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *GuardServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")

	conn, err := db.Conn(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("database connection failed during readiness check")
		httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "database connection failed",
		})
		return
	}
	conn.Close(r.Context())

	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
