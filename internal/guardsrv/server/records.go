package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/fenceline/fenceline/internal/common/httpx"
	"github.com/fenceline/fenceline/internal/common/uuid"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/filter"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/records"
)

func mountRecordHandlers(r chi.Router) {
	r.Post("/records/{collection}", httpx.WrapHttpRsp(createRecord))
	r.Post("/records/{collection}/query", httpx.WrapHttpRsp(queryRecords))
	r.Get("/records/{collection}/{id}", httpx.WrapHttpRsp(getRecord))
	r.Patch("/records/{collection}/{id}", httpx.WrapHttpRsp(updateRecord))
	r.Delete("/records/{collection}/{id}", httpx.WrapHttpRsp(deleteRecord))
}

type recordRsp struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Doc        json.RawMessage `json:"doc"`
}

func recordResponse(rec *records.Record) *recordRsp {
	return &recordRsp{
		ID:         rec.ID,
		Collection: rec.Collection,
		Doc:        json.RawMessage(rec.Doc),
	}
}

func createRecord(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	collection := chi.URLParam(r, "collection")

	doc, err := readRequestBody(r)
	if err != nil {
		return nil, err
	}

	// The record ID rides in the document; one is minted when absent.
	id := gjson.GetBytes(doc, "id").String()
	if id == "" {
		id = uuid.New().String()
	}

	rec := &records.Record{ID: id, Collection: collection, Doc: doc}
	if err := records.Create(ctx, rec); err != nil {
		return nil, err
	}

	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/records/" + collection + "/" + id,
		Response:   recordResponse(rec),
	}, nil
}

func getRecord(r *http.Request) (*httpx.Response, error) {
	rec, err := records.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   recordResponse(rec),
	}, nil
}

func updateRecord(r *http.Request) (*httpx.Response, error) {
	patch, err := readRequestBody(r)
	if err != nil {
		return nil, err
	}

	rec, apperr := records.Update(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), patch)
	if apperr != nil {
		return nil, apperr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   recordResponse(rec),
	}, nil
}

func deleteRecord(r *http.Request) (*httpx.Response, error) {
	if err := records.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusNoContent,
	}, nil
}

type queryRecordsReq struct {
	Filter json.RawMessage `json:"filter,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

type queryRecordsRsp struct {
	Records []*recordRsp `json:"records"`
	Count   int          `json:"count"`
}

func queryRecords(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	collection := chi.URLParam(r, "collection")

	var req queryRecordsReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}

	flt, apperr := filter.Parse(req.Filter)
	if apperr != nil {
		return nil, apperr
	}

	recs, apperr := records.Query(ctx, collection, flt, req.Limit)
	if apperr != nil {
		return nil, apperr
	}

	rsp := &queryRecordsRsp{Records: make([]*recordRsp, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		rsp.Records = append(rsp.Records, recordResponse(rec))
	}

	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}
