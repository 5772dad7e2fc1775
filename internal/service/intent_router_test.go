package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 固定基准时刻：2024-06-12 是周三。
var routerNow = time.Date(2024, time.June, 12, 10, 30, 0, 0, time.UTC)

func TestRouteCountCallsLastWeek(t *testing.T) {
	r := NewIntentRouter()
	intent := r.RouteAt("How many calls did we make last week?", routerNow)

	require.Equal(t, KindCountCalls, intent.Kind)
	assert.Empty(t, intent.Params.Direction)
	assert.Empty(t, intent.Params.Answered)

	// 上周一 00:00 至上周日 23:59:59
	assert.Equal(t, time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC), intent.Params.Start)
	assert.Equal(t, 2024, intent.Params.End.Year())
	assert.Equal(t, time.June, intent.Params.End.Month())
	assert.Equal(t, 9, intent.Params.End.Day())
	assert.Equal(t, 23, intent.Params.End.Hour())
}

func TestRouteCountCallsWithFilters(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("how many outgoing calls were answered yesterday", routerNow)
	require.Equal(t, KindCountCalls, intent.Kind)
	assert.Equal(t, "outgoing", intent.Params.Direction)
	assert.Equal(t, "answered", intent.Params.Answered)

	intent = r.RouteAt("how many calls were missed today", routerNow)
	require.Equal(t, KindCountCalls, intent.Kind)
	assert.Equal(t, "unanswered", intent.Params.Answered)
}

func TestRouteTotalCallsUsesDedicatedKind(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("total calls this month", routerNow)
	assert.Equal(t, KindCountTotalCalls, intent.Kind)

	// 带方向过滤的 total 仍走常规计数口径
	intent = r.RouteAt("total outgoing calls this month", routerNow)
	assert.Equal(t, KindCountCalls, intent.Kind)
	assert.Equal(t, "outgoing", intent.Params.Direction)
}

func TestRouteSellerProductCalls(t *testing.T) {
	r := NewIntentRouter()
	intent := r.RouteAt("meetings by Alice Wang for Solar Panel X last month", routerNow)

	require.Equal(t, KindSellerProductCalls, intent.Kind)
	assert.Equal(t, "Alice Wang", intent.Params.SellerName)
	assert.Equal(t, "Solar Panel X", intent.Params.ProductQuery)
}

func TestRouteCountBuyers(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("how many buyers do we have", routerNow)
	require.Equal(t, KindCountBuyers, intent.Kind)
	assert.Equal(t, "total", intent.Params.Mode)

	intent = r.RouteAt("how many customers were contacted last month", routerNow)
	require.Equal(t, KindCountBuyers, intent.Kind)
	assert.Equal(t, "engaged", intent.Params.Mode)
}

func TestRouteCountSellersAndProducts(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("how many agents are active this week", routerNow)
	require.Equal(t, KindCountSellers, intent.Kind)
	assert.Equal(t, "active", intent.Params.Mode)

	intent = r.RouteAt("number of products discussed last week", routerNow)
	require.Equal(t, KindCountProducts, intent.Kind)
	assert.Equal(t, "discussed", intent.Params.Mode)
}

func TestRouteTopSellers(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("top 3 sellers by number of calls last month", routerNow)
	require.Equal(t, KindTopSellersByCalls, intent.Kind)
	assert.Equal(t, 3, intent.Params.Limit)
	assert.Equal(t, "total", intent.Params.Metric)

	// 未写 N 时默认 5
	intent = r.RouteAt("best reps by calls", routerNow)
	require.Equal(t, KindTopSellersByCalls, intent.Kind)
	assert.Equal(t, 5, intent.Params.Limit)
}

func TestRouteRates(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("what is our answered rate this month", routerNow)
	assert.Equal(t, KindAnsweredRate, intent.Kind)

	intent = r.RouteAt("missed rate last week", routerNow)
	assert.Equal(t, KindMissedRate, intent.Kind)
}

func TestRouteAvgDuration(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("average call duration last month", routerNow)
	require.Equal(t, KindAvgCallDuration, intent.Kind)
	assert.Empty(t, intent.Params.Direction)

	intent = r.RouteAt("avg outgoing duration last week", routerNow)
	require.Equal(t, KindAvgCallDuration, intent.Kind)
	assert.Equal(t, "outgoing", intent.Params.Direction)
}

func TestRouteTimeseries(t *testing.T) {
	r := NewIntentRouter()

	intent := r.RouteAt("show me the weekly trend of our call volume", routerNow)
	require.Equal(t, KindTimeseriesCalls, intent.Kind)
	assert.Equal(t, "weekly", intent.Params.Granularity)
}

func TestRouteFallsBackToRAG(t *testing.T) {
	r := NewIntentRouter()
	intent := r.RouteAt("what objections did the buyer raise about pricing", routerNow)

	require.Equal(t, KindRAGAnswer, intent.Kind)
	// 无时间表述时默认上个整月初至当前时刻
	assert.Equal(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC), intent.Params.Start)
	assert.Equal(t, routerNow, intent.Params.End)
}

func TestResolveDateRangeExplicit(t *testing.T) {
	r := NewIntentRouter()
	intent := r.RouteAt("how many calls from 2024-01-01 to 2024-01-31", routerNow)

	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), intent.Params.Start)
	assert.Equal(t, 31, intent.Params.End.Day())
	assert.Equal(t, 23, intent.Params.End.Hour())
}

func TestResolveDateRangeLastNDays(t *testing.T) {
	r := NewIntentRouter()
	intent := r.RouteAt("how many calls in the last 7 days", routerNow)

	assert.Equal(t, time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC), intent.Params.Start)
	assert.Equal(t, routerNow, intent.Params.End)
}

func TestResolveDateRangeMonthName(t *testing.T) {
	r := NewIntentRouter()
	intent := r.RouteAt("how many calls in january", routerNow)

	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), intent.Params.Start)
	assert.Equal(t, time.January, intent.Params.End.Month())
	assert.Equal(t, 31, intent.Params.End.Day())
}
