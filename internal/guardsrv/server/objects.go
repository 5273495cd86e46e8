package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fenceline/fenceline/internal/common/httpx"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/registry"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/objects"
)

func mountObjectHandlers(r chi.Router) {
	r.Put("/objects/{container}/*", httpx.WrapHttpRsp(putObject))
	r.Get("/objects/{container}/*", httpx.WrapHttpRsp(getObject))
	r.Head("/objects/{container}/*", statObject)
	r.Delete("/objects/{container}/*", httpx.WrapHttpRsp(deleteObject))
	r.Get("/objects/{container}", httpx.WrapHttpRsp(listObjects))
	r.Post("/objects/{container}/tokens", httpx.WrapHttpRsp(mintObjectToken))
}

type objectRsp struct {
	Container   string `json:"container"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

func objectResponse(obj *objects.Object) *objectRsp {
	return &objectRsp{
		Container:   obj.Container,
		Name:        obj.Name,
		ContentType: obj.ContentType,
		Size:        obj.Size,
	}
}

func putObject(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	container := chi.URLParam(r, "container")
	name := chi.URLParam(r, "*")
	if name == "" {
		return nil, httpx.ErrInvalidRequest("object name is required")
	}
	data, err := readRequestBody(r)
	if err != nil {
		return nil, err
	}

	obj, apperr := objects.Put(ctx, container, name, data, r.Header.Get("Content-Type"))
	if apperr != nil {
		return nil, apperr
	}

	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/objects/" + obj.Container + "/" + obj.Name,
		Response:   objectResponse(obj),
	}, nil
}

func getObject(r *http.Request) (*httpx.Response, error) {
	obj, err := objects.Get(r.Context(), chi.URLParam(r, "container"), chi.URLParam(r, "*"))
	if err != nil {
		return nil, err
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &httpx.Response{
		StatusCode:  http.StatusOK,
		ContentType: contentType,
		Response:    obj.Data,
	}, nil
}

// statObject answers HEAD with the object's metadata in headers and no
// body.
func statObject(w http.ResponseWriter, r *http.Request) {
	obj, err := objects.Stat(r.Context(), chi.URLParam(r, "container"), chi.URLParam(r, "*"))
	if err != nil {
		w.WriteHeader(err.StatusCode())
		return
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func deleteObject(r *http.Request) (*httpx.Response, error) {
	if err := objects.Delete(r.Context(), chi.URLParam(r, "container"), chi.URLParam(r, "*")); err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusNoContent,
	}, nil
}

type listObjectsRsp struct {
	Objects []*objectRsp `json:"objects"`
	Count   int          `json:"count"`
}

func listObjects(r *http.Request) (*httpx.Response, error) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, httpx.ErrInvalidRequest("limit must be a positive integer")
		}
		limit = n
	}

	objs, err := objects.List(r.Context(), chi.URLParam(r, "container"), r.URL.Query().Get("prefix"), limit)
	if err != nil {
		return nil, err
	}

	rsp := &listObjectsRsp{Objects: make([]*objectRsp, 0, len(objs)), Count: len(objs)}
	for _, obj := range objs {
		rsp.Objects = append(rsp.Objects, objectResponse(obj))
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

type mintObjectTokenReq struct {
	Validity string `json:"validity,omitempty"`
}

type mintObjectTokenRsp struct {
	Token     string    `json:"token"`
	Container string    `json:"container"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func mintObjectToken(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	container := chi.URLParam(r, "container")

	var req mintObjectTokenReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}

	var validity time.Duration
	if req.Validity != "" {
		d, err := config.ParseDuration(req.Validity)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("invalid validity duration")
		}
		validity = d
	}

	token, expiresAt, apperr := objects.MintAccessToken(ctx, container, validity)
	if apperr != nil {
		return nil, apperr
	}

	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Response: &mintObjectTokenRsp{
			Token:     token,
			Container: container,
			ExpiresAt: expiresAt,
		},
	}, nil
}

// downloadObject serves the public signed-URL download path. The token
// carries the tenant and container; the route never consults the
// Authorization header.
func downloadObject(w http.ResponseWriter, r *http.Request) {
	httpx.WrapStreamHandler(serveDownload)(w, r)
}

func serveDownload(r *http.Request) (*httpx.StreamResponse, error) {
	ctx := r.Context()
	container := chi.URLParam(r, "container")
	name := chi.URLParam(r, "*")

	grant, apperr := objects.VerifyAccessToken(ctx, r.URL.Query().Get("token"))
	if apperr != nil {
		return nil, apperr
	}
	if container != grant.Container {
		// A grant is bound to one container at mint time.
		return nil, objects.ErrInvalidObjectToken.Msg("token not valid for this container")
	}

	// A valid grant does not outlive its tenant: suspension cuts off
	// outstanding tokens on their next use, same as any credential.
	tenant, apperr := registry.RequireActive(ctx, grant.TenantID)
	if apperr != nil {
		return nil, apperr
	}

	ctx, apperr = guardcommon.Establish(ctx, tenant.TenantID)
	if apperr != nil {
		return nil, apperr
	}
	ctx = guardcommon.WithPrincipal(ctx, &guardcommon.Principal{
		Subject: grant.Subject,
	})
	ctx = registry.WithTenantConfig(ctx, &tenant.Config)
	if err := db.ApplyTenantScope(ctx); err != nil {
		return nil, httpx.ErrApplicationError("unable to scope request")
	}

	obj, apperr := objects.Get(ctx, container, name)
	if apperr != nil {
		return nil, apperr
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &httpx.StreamResponse{
		StatusCode:  http.StatusOK,
		ContentType: contentType,
		WriteBody: func(w http.ResponseWriter) error {
			_, err := w.Write(obj.Data)
			return err
		},
	}, nil
}
