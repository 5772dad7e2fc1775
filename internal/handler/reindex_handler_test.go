package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salespulse-go/internal/model"
)

type fakeEntityIDRepo struct {
	calls []string
}

func (f *fakeEntityIDRepo) FindMeetingForTenant(_, _ string) (*model.Meeting, error) { return nil, nil }
func (f *fakeEntityIDRepo) FindBuyerForTenant(_, _ string) (*model.Buyer, error)     { return nil, nil }
func (f *fakeEntityIDRepo) FindProductForTenant(_, _ string) (*model.Product, error) { return nil, nil }
func (f *fakeEntityIDRepo) FindAppCallForTenant(_, _ string) (*model.AppCall, error) { return nil, nil }

func (f *fakeEntityIDRepo) ListMeetingIDs(tenantID string) ([]string, error) {
	f.calls = append(f.calls, "meetings:"+tenantID)
	return nil, nil
}
func (f *fakeEntityIDRepo) ListBuyerIDs(tenantID string) ([]string, error) {
	f.calls = append(f.calls, "buyers:"+tenantID)
	return nil, nil
}
func (f *fakeEntityIDRepo) ListSellerIDs(tenantID string) ([]string, error) {
	f.calls = append(f.calls, "sellers:"+tenantID)
	return nil, nil
}
func (f *fakeEntityIDRepo) ListProductIDs(tenantID string) ([]string, error) {
	f.calls = append(f.calls, "products:"+tenantID)
	return nil, nil
}
func (f *fakeEntityIDRepo) ListAppCallIDs(tenantID string) ([]string, error) {
	f.calls = append(f.calls, "app_calls:"+tenantID)
	return nil, nil
}

func newReindexRig(repo *fakeEntityIDRepo) *gin.Engine {
	r := gin.New()
	r.POST("/internal/reindex", NewReindexHandler(repo).Reindex)
	return r
}

func TestReindexRequiresTenantID(t *testing.T) {
	r := newReindexRig(&fakeEntityIDRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/reindex", strings.NewReader(`{"types": ["meeting.transcript"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReindexEmptyTypesCoversAllDocTypes(t *testing.T) {
	repo := &fakeEntityIDRepo{}
	r := newReindexRig(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/reindex", strings.NewReader(`{"tenant_id": "agency-1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	// meeting.transcript 和 meeting.key_point 共用会谈主键表，其余各走一类
	assert.Equal(t, []string{
		"meetings:agency-1", "meetings:agency-1",
		"buyers:agency-1", "sellers:agency-1", "products:agency-1", "app_calls:agency-1",
	}, repo.calls)
	assert.Contains(t, w.Body.String(), `"published":0`)
}

func TestReindexHonorsRequestedTypes(t *testing.T) {
	repo := &fakeEntityIDRepo{}
	r := newReindexRig(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/reindex", strings.NewReader(`{"tenant_id": "agency-1", "types": ["buyer.profile"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"buyers:agency-1"}, repo.calls)
}
