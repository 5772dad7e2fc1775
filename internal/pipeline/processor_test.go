package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salespulse-go/internal/model"
	"salespulse-go/internal/service"
	"salespulse-go/pkg/log"
	"salespulse-go/pkg/tasks"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

type fakeEntityRepo struct {
	meeting *model.Meeting
	buyer   *model.Buyer
	product *model.Product
	appCall *model.AppCall
}

func (f *fakeEntityRepo) FindMeetingForTenant(_, _ string) (*model.Meeting, error) {
	if f.meeting == nil {
		return nil, errors.New("not found")
	}
	return f.meeting, nil
}
func (f *fakeEntityRepo) FindBuyerForTenant(_, _ string) (*model.Buyer, error) {
	if f.buyer == nil {
		return nil, errors.New("not found")
	}
	return f.buyer, nil
}
func (f *fakeEntityRepo) FindProductForTenant(_, _ string) (*model.Product, error) {
	if f.product == nil {
		return nil, errors.New("not found")
	}
	return f.product, nil
}
func (f *fakeEntityRepo) FindAppCallForTenant(_, _ string) (*model.AppCall, error) {
	if f.appCall == nil {
		return nil, errors.New("not found")
	}
	return f.appCall, nil
}
func (f *fakeEntityRepo) ListMeetingIDs(_ string) ([]string, error) { return nil, nil }
func (f *fakeEntityRepo) ListBuyerIDs(_ string) ([]string, error)   { return nil, nil }
func (f *fakeEntityRepo) ListSellerIDs(_ string) ([]string, error)  { return nil, nil }
func (f *fakeEntityRepo) ListProductIDs(_ string) ([]string, error) { return nil, nil }
func (f *fakeEntityRepo) ListAppCallIDs(_ string) ([]string, error) { return nil, nil }

type fakeSellerRepo struct {
	seller *model.Seller
}

func (f *fakeSellerRepo) FindByEmail(_ string) (*model.Seller, error) { return f.seller, nil }
func (f *fakeSellerRepo) FindByID(_ string) (*model.Seller, error) {
	if f.seller == nil {
		return nil, errors.New("not found")
	}
	return f.seller, nil
}
func (f *fakeSellerRepo) FindByNameLike(_, _ string) ([]model.Seller, error) { return nil, nil }
func (f *fakeSellerRepo) FindIDsByTenant(_ string) ([]string, error)         { return nil, nil }

// fakeIndexService 记录每次写入的参数。
type fakeIndexService struct {
	docType  string
	entityID string
	tenantID string
	chunks   []string
	meta     map[string]string
	refs     service.EntityRefs
	calls    int
}

func (f *fakeIndexService) UpsertDocuments(_ context.Context, docType, entityID, tenantID string, chunks []string, meta map[string]string, refs service.EntityRefs) ([]string, error) {
	f.docType = docType
	f.entityID = entityID
	f.tenantID = tenantID
	f.chunks = chunks
	f.meta = meta
	f.refs = refs
	f.calls++
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = service.BuildDocID(docType, entityID, i)
	}
	return ids, nil
}

func (f *fakeIndexService) DeleteEntityDocuments(_ context.Context, _ string, _ service.EntityRefs) error {
	return nil
}

var meetingStart = time.Date(2024, time.June, 5, 14, 0, 0, 0, time.UTC)

func TestProcessMeetingTranscript(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{meeting: &model.Meeting{
		ID:            "m1",
		SellerID:      "s1",
		BuyerID:       "b1",
		Direction:     "outgoing",
		StartTime:     meetingStart,
		Transcription: "buyer asked about pricing and warranty details",
	}}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{
		DocType:  DocTypeMeetingTranscript,
		EntityID: "m1",
		TenantID: "agency-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, DocTypeMeetingTranscript, idx.docType)
	assert.Equal(t, "agency-1", idx.tenantID)
	require.Len(t, idx.chunks, 1)
	assert.Equal(t, "s1", idx.meta["seller_id"])
	assert.Equal(t, "outgoing", idx.meta["direction"])
	assert.Equal(t, "m1", idx.refs.MeetingID)
	assert.Equal(t, "b1", idx.refs.BuyerID)
}

func TestProcessMeetingTranscriptEmptySkips(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{meeting: &model.Meeting{ID: "m1", StartTime: meetingStart}}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: DocTypeMeetingTranscript, EntityID: "m1", TenantID: "agency-1"})
	require.NoError(t, err)
	assert.Zero(t, idx.calls)
}

func TestProcessMeetingKeyPoints(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{meeting: &model.Meeting{
		ID:        "m1",
		SellerID:  "s1",
		StartTime: meetingStart,
		Summary:   `["buyer wants a demo", "pricing concerns raised", ""]`,
	}}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: DocTypeMeetingKeyPoint, EntityID: "m1", TenantID: "agency-1"})
	require.NoError(t, err)

	// 空要点被丢弃
	require.Len(t, idx.chunks, 2)
	assert.Equal(t, "buyer wants a demo", idx.chunks[0])
	assert.Equal(t, "summary", idx.meta["intent"])
}

func TestProcessMeetingKeyPointsWrappedForm(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{meeting: &model.Meeting{
		ID:        "m1",
		StartTime: meetingStart,
		Summary:   `{"bullets": ["next step agreed"]}`,
	}}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: DocTypeMeetingKeyPoint, EntityID: "m1", TenantID: "agency-1"})
	require.NoError(t, err)
	require.Len(t, idx.chunks, 1)
	assert.Equal(t, "next step agreed", idx.chunks[0])
}

func TestProcessMeetingKeyPointsUnparsableSkips(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{meeting: &model.Meeting{
		ID:        "m1",
		StartTime: meetingStart,
		Summary:   "not json at all",
	}}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: DocTypeMeetingKeyPoint, EntityID: "m1", TenantID: "agency-1"})
	require.NoError(t, err)
	assert.Zero(t, idx.calls)
}

func TestProcessBuyerProfile(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{buyer: &model.Buyer{
		ID:          "b1",
		Name:        "Acme Lead",
		CompanyName: "Acme Corp",
	}}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: DocTypeBuyerProfile, EntityID: "b1", TenantID: "agency-1"})
	require.NoError(t, err)

	require.Len(t, idx.chunks, 1)
	assert.Contains(t, idx.chunks[0], "Name: Acme Lead")
	assert.Contains(t, idx.chunks[0], "Company: Acme Corp")
	assert.Equal(t, "b1", idx.refs.BuyerID)
}

func TestProcessSellerProfileTenantMismatch(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{}, &fakeSellerRepo{seller: &model.Seller{
		ID:       "s1",
		AgencyID: "other-agency",
		Name:     "Alice",
	}}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: DocTypeSellerProfile, EntityID: "s1", TenantID: "agency-1"})
	require.Error(t, err)
	assert.Zero(t, idx.calls)
}

func TestProcessAppCall(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{appCall: &model.AppCall{
		ID:           "c1",
		CallType:     "incoming",
		Status:       model.AppCallStatusMissed,
		SellerNumber: "100",
		BuyerNumber:  "200",
		StartTime:    meetingStart,
		Duration:     30,
		UserID:       "s1",
	}}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: DocTypeAppCall, EntityID: "c1", TenantID: "agency-1"})
	require.NoError(t, err)

	assert.Equal(t, "s1", idx.refs.SellerID)
	assert.Equal(t, "incoming", idx.meta["call_type"])
}

func TestProcessUnknownTypeIsSwallowed(t *testing.T) {
	idx := &fakeIndexService{}
	p := NewProcessor(&fakeEntityRepo{}, &fakeSellerRepo{}, idx, "bucket")

	err := p.Process(context.Background(), tasks.IndexingTask{DocType: "mystery.kind", EntityID: "x", TenantID: "agency-1"})
	require.NoError(t, err)
	assert.Zero(t, idx.calls)
}
