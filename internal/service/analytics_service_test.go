package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salespulse-go/internal/repository"
)

// fakeAnalyticsRepo 用固定数据实现 AnalyticsRepository，按方向区分接通/未接通计数。
type fakeAnalyticsRepo struct {
	answeredByDir   map[string]int64 // "" 表示不限方向
	unansweredByDir map[string]int64
	buyers          int64
	engagedBuyers   int64
	meetingAvg      float64
	appAvg          float64
	answeredSellers []repository.SellerScore
	appCallSellers  []repository.SellerScore
	topProducts     []repository.NameCount
	answeredBuckets []repository.BucketCount
	missedBuckets   []repository.BucketCount
}

func (f *fakeAnalyticsRepo) CountAnsweredCalls(_ string, mf repository.MeetingFilter) (int64, error) {
	return f.answeredByDir[mf.Direction], nil
}
func (f *fakeAnalyticsRepo) CountUnansweredCalls(_ string, mf repository.MeetingFilter) (int64, error) {
	return f.unansweredByDir[mf.Direction], nil
}
func (f *fakeAnalyticsRepo) CountBuyers(_ string) (int64, error) { return f.buyers, nil }
func (f *fakeAnalyticsRepo) CountEngagedBuyers(_ string, _ repository.MeetingFilter) (int64, error) {
	return f.engagedBuyers, nil
}
func (f *fakeAnalyticsRepo) CountSellers(_ string) (int64, error) { return 4, nil }
func (f *fakeAnalyticsRepo) CountActiveSellers(_ string, _ repository.MeetingFilter) (int64, error) {
	return 2, nil
}
func (f *fakeAnalyticsRepo) CountProducts(_ string) (int64, error) { return 9, nil }
func (f *fakeAnalyticsRepo) CountDiscussedProducts(_ string, _ repository.MeetingFilter) (int64, error) {
	return 3, nil
}
func (f *fakeAnalyticsRepo) AvgMeetingDurationSeconds(_ string, _ repository.MeetingFilter) (float64, error) {
	return f.meetingAvg, nil
}
func (f *fakeAnalyticsRepo) AvgAppCallDurationSeconds(_ string, _ repository.MeetingFilter) (float64, error) {
	return f.appAvg, nil
}
func (f *fakeAnalyticsRepo) AnsweredCallsBySeller(_ string, _ repository.MeetingFilter) ([]repository.SellerScore, error) {
	return f.answeredSellers, nil
}
func (f *fakeAnalyticsRepo) AppCallsBySeller(_ string, _ repository.MeetingFilter) ([]repository.SellerScore, error) {
	return f.appCallSellers, nil
}
func (f *fakeAnalyticsRepo) TopProductsDiscussed(_ string, _ repository.MeetingFilter, _ int) ([]repository.NameCount, error) {
	return f.topProducts, nil
}
func (f *fakeAnalyticsRepo) AnsweredCallsPerBucket(_ string, _ repository.MeetingFilter, _ string) ([]repository.BucketCount, error) {
	return f.answeredBuckets, nil
}
func (f *fakeAnalyticsRepo) UnansweredCallsPerBucket(_ string, _ repository.MeetingFilter, _ string) ([]repository.BucketCount, error) {
	return f.missedBuckets, nil
}
func (f *fakeAnalyticsRepo) SellerProductMeetings(_, _, _ string, _ repository.MeetingFilter, _ int) (int64, []string, error) {
	return 2, []string{"m-1", "m-2"}, nil
}

func testWindow() IntentParams {
	return IntentParams{
		Start: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.June, 30, 23, 59, 59, 0, time.UTC),
	}
}

func TestCountTotalCallsSumsFourComponents(t *testing.T) {
	repo := &fakeAnalyticsRepo{
		answeredByDir:   map[string]int64{"incoming": 10, "outgoing": 20},
		unansweredByDir: map[string]int64{"incoming": 3, "outgoing": 7},
	}
	svc := NewAnalyticsService(repo)

	resp, err := svc.CountTotalCalls("agency-1", testWindow())
	require.NoError(t, err)

	assert.Contains(t, resp.Answer, "40 calls")
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "analytics", resp.Sources[0].Type)
	assert.Equal(t, int64(10), resp.Sources[0].Components["incoming_answered"])
	assert.Equal(t, int64(7), resp.Sources[0].Components["outgoing_unanswered"])
}

func TestCountCallsAnsweredFilter(t *testing.T) {
	repo := &fakeAnalyticsRepo{
		answeredByDir:   map[string]int64{"": 30},
		unansweredByDir: map[string]int64{"": 5},
	}
	svc := NewAnalyticsService(repo)

	p := testWindow()
	p.Answered = "answered"
	resp, err := svc.CountCalls("agency-1", p)
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "30 answered calls")

	p.Answered = ""
	resp, err = svc.CountCalls("agency-1", p)
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "35")
}

func TestAnsweredRateRounding(t *testing.T) {
	repo := &fakeAnalyticsRepo{
		answeredByDir:   map[string]int64{"": 1},
		unansweredByDir: map[string]int64{"": 2},
	}
	svc := NewAnalyticsService(repo)

	resp, err := svc.AnsweredRate("agency-1", testWindow())
	require.NoError(t, err)
	// 1/3 -> 33.33，保留两位小数
	assert.Equal(t, "33.33", resp.Answer)
}

func TestAnsweredRateZeroTotal(t *testing.T) {
	svc := NewAnalyticsService(&fakeAnalyticsRepo{
		answeredByDir:   map[string]int64{},
		unansweredByDir: map[string]int64{},
	})

	resp, err := svc.AnsweredRate("agency-1", testWindow())
	require.NoError(t, err)
	assert.Equal(t, "0", resp.Answer)
}

func TestMissedRateUsesIncomingUnanswered(t *testing.T) {
	repo := &fakeAnalyticsRepo{
		answeredByDir:   map[string]int64{"": 8},
		unansweredByDir: map[string]int64{"": 2, "incoming": 1},
	}
	svc := NewAnalyticsService(repo)

	resp, err := svc.MissedRate("agency-1", testWindow())
	require.NoError(t, err)
	// 1 / (8 + 2) = 10%
	assert.Equal(t, "10", resp.Answer)
	assert.Equal(t, int64(1), resp.Sources[0].Components["missed"])
}

func TestAvgCallDurationFallsBackToAppCalls(t *testing.T) {
	svc := NewAnalyticsService(&fakeAnalyticsRepo{meetingAvg: 0, appAvg: 95.5})

	resp, err := svc.AvgCallDuration("agency-1", testWindow())
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "95.50 seconds")
}

func TestTopSellersByCallsMergesAndSorts(t *testing.T) {
	repo := &fakeAnalyticsRepo{
		answeredSellers: []repository.SellerScore{
			{SellerID: "s1", SellerName: "Alice", Score: 10},
			{SellerID: "s2", SellerName: "Bob", Score: 8},
		},
		appCallSellers: []repository.SellerScore{
			{SellerID: "s2", SellerName: "Bob", Score: 5},
			{SellerID: "s3", SellerName: "Carol", Score: 4},
		},
	}
	svc := NewAnalyticsService(repo)

	p := testWindow()
	p.Limit = 2
	resp, err := svc.TopSellersByCalls("agency-1", p)
	require.NoError(t, err)

	items := resp.Sources[0].Items
	require.Len(t, items, 2)
	// Bob 合并后 13 分居首
	assert.Equal(t, "Bob", items[0]["seller_name"])
	assert.Equal(t, int64(13), items[0]["score"])
	assert.Equal(t, "Alice", items[1]["seller_name"])
	assert.Contains(t, resp.Answer, "1) Bob (13)")
}

func TestTopSellersByCallsAnsweredMetricSkipsAppCalls(t *testing.T) {
	repo := &fakeAnalyticsRepo{
		answeredSellers: []repository.SellerScore{{SellerID: "s1", SellerName: "Alice", Score: 10}},
		appCallSellers:  []repository.SellerScore{{SellerID: "s1", SellerName: "Alice", Score: 99}},
	}
	svc := NewAnalyticsService(repo)

	p := testWindow()
	p.Metric = "answered"
	resp, err := svc.TopSellersByCalls("agency-1", p)
	require.NoError(t, err)
	assert.Equal(t, int64(10), resp.Sources[0].Items[0]["score"])
}

func TestTopSellersByCallsNoData(t *testing.T) {
	svc := NewAnalyticsService(&fakeAnalyticsRepo{})

	resp, err := svc.TopSellersByCalls("agency-1", testWindow())
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "No data")
	assert.Empty(t, resp.Sources[0].Items)
}

func TestTimeseriesCallsMergesBuckets(t *testing.T) {
	repo := &fakeAnalyticsRepo{
		answeredBuckets: []repository.BucketCount{
			{Bucket: "2024-06-01", Count: 5},
			{Bucket: "2024-06-02", Count: 2},
		},
		missedBuckets: []repository.BucketCount{
			{Bucket: "2024-06-02", Count: 4},
		},
	}
	svc := NewAnalyticsService(repo)

	resp, err := svc.TimeseriesCalls("agency-1", testWindow())
	require.NoError(t, err)

	series := resp.Sources[0].Series
	require.Len(t, series, 2)
	assert.Equal(t, "2024-06-01", series[0].Bucket)
	assert.Equal(t, int64(5), series[0].Total)
	assert.Equal(t, int64(6), series[1].Total)
	// 峰值在合计更高的桶
	assert.Contains(t, resp.Answer, "Peak on 2024-06-02")
}

func TestSellerProductCallsAnswer(t *testing.T) {
	svc := NewAnalyticsService(&fakeAnalyticsRepo{})

	p := testWindow()
	p.ProductQuery = "Solar Panel X"
	resp, err := svc.SellerProductCalls("agency-1", "s1", p)
	require.NoError(t, err)

	assert.Equal(t, "2", resp.Answer)
	require.Len(t, resp.Sources[0].Items, 2)
	assert.Equal(t, "m-1", resp.Sources[0].Items[0]["meeting_id"])
}

func TestRateHelper(t *testing.T) {
	assert.Equal(t, 0.0, rate(5, 0))
	assert.Equal(t, 50.0, rate(1, 2))
	assert.Equal(t, 33.33, rate(1, 3))
	assert.Equal(t, 66.67, rate(2, 3))
}
