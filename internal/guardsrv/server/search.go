package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fenceline/fenceline/internal/common/httpx"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/filter"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/search"
)

func mountSearchHandlers(r chi.Router) {
	r.Post("/search/documents", httpx.WrapHttpRsp(uploadDocuments))
	r.Post("/search/query", httpx.WrapHttpRsp(searchDocuments))
	r.Post("/search/delete", httpx.WrapHttpRsp(deleteDocuments))
	r.Get("/search/documents/{key}", httpx.WrapHttpRsp(getDocument))
}

type searchDocReq struct {
	Key   string          `json:"key"`
	Title string          `json:"title,omitempty"`
	Body  string          `json:"body,omitempty"`
	Attrs json.RawMessage `json:"attrs,omitempty"`
}

type uploadDocumentsReq struct {
	Documents []searchDocReq `json:"documents"`
}

func uploadDocuments(r *http.Request) (*httpx.Response, error) {
	var req uploadDocumentsReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if len(req.Documents) == 0 {
		return nil, httpx.ErrInvalidRequest("at least one document is required")
	}

	docs := make([]*search.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, &search.Document{
			Key:   d.Key,
			Title: d.Title,
			Body:  d.Body,
			Attrs: d.Attrs,
		})
	}

	if err := search.Upload(r.Context(), docs); err != nil {
		return nil, err
	}

	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   map[string]int{"uploaded": len(docs)},
	}, nil
}

type searchReq struct {
	Query  string          `json:"query"`
	Filter json.RawMessage `json:"filter,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

type searchHit struct {
	Key   string          `json:"key"`
	Title string          `json:"title"`
	Body  string          `json:"body,omitempty"`
	Attrs json.RawMessage `json:"attrs,omitempty"`
	Score float64         `json:"score"`
}

type searchRsp struct {
	Results []searchHit `json:"results"`
	Count   int         `json:"count"`
}

func searchDocuments(r *http.Request) (*httpx.Response, error) {
	var req searchReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}

	flt, apperr := filter.Parse(req.Filter)
	if apperr != nil {
		return nil, apperr
	}

	results, apperr := search.Search(r.Context(), req.Query, flt, req.Limit)
	if apperr != nil {
		return nil, apperr
	}

	rsp := &searchRsp{Results: make([]searchHit, 0, len(results)), Count: len(results)}
	for _, res := range results {
		rsp.Results = append(rsp.Results, searchHit{
			Key:   res.Key,
			Title: res.Title,
			Body:  res.Body,
			Attrs: res.Attrs,
			Score: res.Score,
		})
	}

	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

type deleteDocumentsReq struct {
	Keys []string `json:"keys"`
}

func deleteDocuments(r *http.Request) (*httpx.Response, error) {
	var req deleteDocumentsReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if len(req.Keys) == 0 {
		return nil, httpx.ErrInvalidRequest("at least one key is required")
	}

	if err := search.Delete(r.Context(), req.Keys); err != nil {
		return nil, err
	}

	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   map[string]int{"deleted": len(req.Keys)},
	}, nil
}

func getDocument(r *http.Request) (*httpx.Response, error) {
	doc, err := search.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: searchHit{
			Key:   doc.Key,
			Title: doc.Title,
			Body:  doc.Body,
			Attrs: doc.Attrs,
		},
	}, nil
}
