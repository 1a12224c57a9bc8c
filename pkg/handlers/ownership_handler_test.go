package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/services"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, mux http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

var handlerCompanies = []models.Company{
	{ID: "Acme", Name: "Acme"},
	{ID: "MS Byggsystem", Name: "MS Byggsystem"},
}

func TestOwnershipHandler_NotReady(t *testing.T) {
	srv := newTestServer(t, handlerCompanies)

	rec := serve(t, srv.mux, http.MethodGet, "/api/ownership", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, srv.mux, http.MethodGet, "/api/companies/Acme/sites", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOwnershipHandler_RefreshAndGet(t *testing.T) {
	srv := newTestServer(t, handlerCompanies,
		testRecord("Acme", "R1", "Acme drive"),
		testRecord("ms-byggsystem", "R2", "MS Byggsystem – DK Bas"),
	)

	rec := serve(t, srv.mux, http.MethodPost, "/api/ownership/refresh", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result services.RefreshResult
	decodeData(t, rec, &result)
	assert.False(t, result.FromCache)
	assert.Equal(t, uint64(1), result.Seq)

	rec = serve(t, srv.mux, http.MethodGet, "/api/ownership", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Seq    uint64            `json:"seq"`
		State  string            `json:"state"`
		Owners map[string]string `json:"owners"`
	}
	decodeData(t, rec, &summary)
	assert.Equal(t, uint64(1), summary.Seq)
	assert.Equal(t, "idle", summary.State)
	assert.Equal(t, map[string]string{"R1": "acme", "R2": "ms-byggsystem"}, summary.Owners)
}

func TestOwnershipHandler_CompanySites(t *testing.T) {
	srv := newTestServer(t, handlerCompanies,
		testRecord("MS Byggsystem", "R1", "MS drive"),
		testRecord("ms-byggsystem", "R2", "MS archive"),
	)
	delete(srv.directory.sites, "R2")
	srv.refresh(t)

	rec := serve(t, srv.mux, http.MethodGet, "/api/companies/ms-byggsystem/sites", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var response CompanySitesResponse
	decodeData(t, rec, &response)
	assert.Equal(t, "MS Byggsystem", response.Company.ID)
	assert.Equal(t, 2, response.Total)
	for _, row := range response.Sites {
		assert.Nil(t, row.Status, "no status before a check")
	}

	rec = serve(t, srv.mux, http.MethodGet, "/api/companies/ms-byggsystem/sites?check=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &response)
	statuses := map[string]models.SiteStatusEntry{}
	for _, row := range response.Sites {
		require.NotNil(t, row.Status)
		statuses[row.SiteID] = *row.Status
	}
	assert.Equal(t, models.SiteStatusLive, statuses["R1"].Status)
	assert.Equal(t, models.SiteStatusError, statuses["R2"].Status)
	assert.Equal(t, "not found", statuses["R2"].Reason)
}

func TestOwnershipHandler_Unassigned(t *testing.T) {
	srv := newTestServer(t, handlerCompanies, testRecord("Acme", "R1", "Acme drive"))
	srv.refresh(t)
	require.NoError(t, srv.store.Delete(context.Background(), "Acme", "R1"))
	srv.refresh(t)

	rec := serve(t, srv.mux, http.MethodGet, "/api/ownership/unassigned", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []services.SiteRow
	decodeData(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "R1", rows[0].SiteID)
}
