package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/directory"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/service"
)

type fakeLifecycle struct {
	created   *model.Broadcast
	createErr error
	cancelErr error
}

func (f *fakeLifecycle) CreateBroadcast(_ context.Context, b *model.Broadcast) (*model.Broadcast, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	b.ID = uuid.New()
	b.Status = model.StatusActive
	f.created = b
	return b, nil
}

func (f *fakeLifecycle) CancelBroadcast(context.Context, uuid.UUID) error      { return f.cancelErr }
func (f *fakeLifecycle) ExpireBroadcast(context.Context, *model.Broadcast) error { return nil }
func (f *fakeLifecycle) ActivateScheduled(context.Context, *model.Broadcast) error {
	return nil
}
func (f *fakeLifecycle) ActivateReady(context.Context, *model.Broadcast) error   { return nil }
func (f *fakeLifecycle) BeginPrecompute(context.Context, *model.Broadcast) error { return nil }

type fakeQuery struct {
	views map[uuid.UUID]*service.BroadcastView
}

func (f *fakeQuery) Broadcast(_ context.Context, id uuid.UUID) (*service.BroadcastView, error) {
	v, ok := f.views[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "broadcast %s not found", id)
	}
	return v, nil
}

func (f *fakeQuery) Broadcasts(context.Context, string, int, int) ([]*model.Broadcast, error) {
	return nil, nil
}

func (f *fakeQuery) Deliveries(context.Context, uuid.UUID, int, int) ([]*model.UserBroadcast, error) {
	return nil, nil
}

func (f *fakeQuery) Statistics(context.Context, uuid.UUID) (*model.BroadcastStatistics, error) {
	return &model.BroadcastStatistics{}, nil
}

func (f *fakeQuery) Quarantine(context.Context, int, int) ([]*model.QuarantinedEvent, error) {
	return nil, nil
}

func (f *fakeQuery) OutboxDepth(context.Context) (int64, error) { return 0, nil }

type fakeDlt struct {
	records    []*model.DltRecord
	redriveErr error
	purged     int64
}

func (f *fakeDlt) ListRecords(context.Context, int, int) ([]*model.DltRecord, error) {
	return f.records, nil
}

func (f *fakeDlt) Redrive(context.Context, int64) error { return f.redriveErr }

func (f *fakeDlt) RedriveAll(context.Context) (int, error) { return len(f.records), nil }

func (f *fakeDlt) Purge(context.Context, int64) error { return nil }

func (f *fakeDlt) PurgeAll(context.Context) (int64, error) { return f.purged, nil }

type adminFixture struct {
	lifecycle *fakeLifecycle
	query     *fakeQuery
	dlt       *fakeDlt
	router    chi.Router
}

func newAdminFixture() *adminFixture {
	f := &adminFixture{
		lifecycle: &fakeLifecycle{},
		query:     &fakeQuery{views: make(map[uuid.UUID]*service.BroadcastView)},
		dlt:       &fakeDlt{},
	}
	h := NewAdminHandler(f.lifecycle, f.query, f.dlt, directory.NewStaticProvider(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		&config.Config{HTTP: config.HTTPConfig{AdminRatePerMin: 1000}})
	f.router = chi.NewRouter()
	h.Routes(f.router)
	return f
}

func (f *adminFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateBroadcast(t *testing.T) {
	f := newAdminFixture()

	rec := f.do(t, http.MethodPost, "/api/admin/broadcasts", `{
		"sender": "ops",
		"content": "release tonight",
		"priority": "HIGH",
		"target": {"type": "ALL"}
	}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got model.Broadcast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, model.StatusActive, got.Status)

	require.NotNil(t, f.lifecycle.created)
	assert.Equal(t, model.TargetAll, f.lifecycle.created.Target.Type)
	assert.Equal(t, model.PriorityHighBroadcast, f.lifecycle.created.Priority)
}

func TestCreateBroadcastRejectsMalformedBody(t *testing.T) {
	f := newAdminFixture()
	rec := f.do(t, http.MethodPost, "/api/admin/broadcasts", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBroadcastValidation(t *testing.T) {
	cases := map[string]string{
		"missing sender":         `{"content": "x", "target": {"type": "ALL"}}`,
		"missing content":        `{"sender": "ops", "target": {"type": "ALL"}}`,
		"unknown target type":    `{"sender": "ops", "content": "x", "target": {"type": "TEAM"}}`,
		"role target needs role": `{"sender": "ops", "content": "x", "target": {"type": "ROLE"}}`,
		"product target needs product": `{"sender": "ops", "content": "x",
			"target": {"type": "PRODUCT"}}`,
		"bad priority": `{"sender": "ops", "content": "x", "priority": "ASAP",
			"target": {"type": "ALL"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newAdminFixture()
			rec := f.do(t, http.MethodPost, "/api/admin/broadcasts", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, f.lifecycle.created)
		})
	}
}

func TestGetBroadcast(t *testing.T) {
	f := newAdminFixture()
	id := uuid.New()
	f.query.views[id] = &service.BroadcastView{
		Broadcast:  &model.Broadcast{ID: id, Status: model.StatusActive},
		Statistics: &model.BroadcastStatistics{},
	}

	rec := f.do(t, http.MethodGet, "/api/admin/broadcasts/"+id.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/broadcasts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/broadcasts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelBroadcastConflict(t *testing.T) {
	f := newAdminFixture()
	f.lifecycle.cancelErr = apperr.New(apperr.KindConflictCAS, "already terminal")

	rec := f.do(t, http.MethodDelete, "/api/admin/broadcasts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelBroadcastNoContent(t *testing.T) {
	f := newAdminFixture()
	rec := f.do(t, http.MethodDelete, "/api/admin/broadcasts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListBroadcastsFilterValidation(t *testing.T) {
	f := newAdminFixture()

	rec := f.do(t, http.MethodGet, "/api/admin/broadcasts?filter=active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	// Empty result renders as an empty array, never null.
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = f.do(t, http.MethodGet, "/api/admin/broadcasts?filter=archived", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaskedInternalError(t *testing.T) {
	f := newAdminFixture()
	f.lifecycle.createErr = assert.AnError

	rec := f.do(t, http.MethodPost, "/api/admin/broadcasts",
		`{"sender": "ops", "content": "x", "target": {"type": "ALL"}}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestDltEndpoints(t *testing.T) {
	f := newAdminFixture()
	f.dlt.records = []*model.DltRecord{{ID: 7, OriginalTopic: "broadcast.orchestration.v1"}}
	f.dlt.purged = 3

	rec := f.do(t, http.MethodGet, "/api/admin/dlt/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []*model.DltRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].ID)

	rec = f.do(t, http.MethodPost, "/api/admin/dlt/redrive/7", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/dlt/redrive/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/dlt/redrive-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"redriven": 1}`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/admin/dlt/purge-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"purged": 3}`, rec.Body.String())
}

func TestRedrivePoisonMapsTo422(t *testing.T) {
	f := newAdminFixture()
	f.dlt.redriveErr = apperr.New(apperr.KindSerializationPoison, "unreadable payload")

	rec := f.do(t, http.MethodPost, "/api/admin/dlt/redrive/1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPageParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&offset=5", nil)
	limit, offset := pageParams(req, 50)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 5, offset)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	limit, offset = pageParams(req, 50)
	assert.Equal(t, 50, limit)
	assert.Zero(t, offset)

	// Oversized and malformed values fall back to the default.
	req = httptest.NewRequest(http.MethodGet, "/?limit=5000&offset=-1", nil)
	limit, offset = pageParams(req, 50)
	assert.Equal(t, 50, limit)
	assert.Zero(t, offset)
}
