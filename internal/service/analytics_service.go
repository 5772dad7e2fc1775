package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"salespulse-go/internal/model"
	"salespulse-go/internal/repository"
	"salespulse-go/pkg/log"
)

// AnalyticsService 接口定义了确定性分析指标的计算。
// 每个指标一个方法；输入是租户主键和路由抽取的参数，输出统一为 AnswerResponse，
// 其中 sources[0].type 固定为 "analytics" 并携带指标名、分量和时间窗。
type AnalyticsService interface {
	CountTotalCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	CountCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	CountBuyers(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	CountSellers(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	CountProducts(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	AnsweredRate(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	MissedRate(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	AvgCallDuration(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	TopSellersByCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	TopProductsDiscussed(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	TimeseriesCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error)
	SellerProductCalls(tenantID, sellerID string, p IntentParams) (*model.AnswerResponse, error)
}

// analyticsService 是 AnalyticsService 接口的实现。
type analyticsService struct {
	repo repository.AnalyticsRepository
}

// NewAnalyticsService 创建一个新的 AnalyticsService 实例。
func NewAnalyticsService(repo repository.AnalyticsRepository) AnalyticsService {
	return &analyticsService{repo: repo}
}

func filterOf(p IntentParams) repository.MeetingFilter {
	return repository.MeetingFilter{Start: p.Start, End: p.End, Direction: p.Direction}
}

// CountTotalCalls 统计总通话数，按接通/未接通与方向拆成四个分量。
// 口径约定：接通只来自 meetings，未接通只来自 app_calls，总量 = 两者之和，绝不重复计数。
func (s *analyticsService) CountTotalCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	f := repository.MeetingFilter{Start: p.Start, End: p.End}

	inAnswered, err := s.repo.CountAnsweredCalls(tenantID, repository.MeetingFilter{Start: p.Start, End: p.End, Direction: "incoming"})
	if err != nil {
		return nil, err
	}
	outAnswered, err := s.repo.CountAnsweredCalls(tenantID, repository.MeetingFilter{Start: p.Start, End: p.End, Direction: "outgoing"})
	if err != nil {
		return nil, err
	}
	inUnanswered, err := s.repo.CountUnansweredCalls(tenantID, repository.MeetingFilter{Start: p.Start, End: p.End, Direction: "incoming"})
	if err != nil {
		return nil, err
	}
	outUnanswered, err := s.repo.CountUnansweredCalls(tenantID, repository.MeetingFilter{Start: p.Start, End: p.End, Direction: "outgoing"})
	if err != nil {
		return nil, err
	}

	total := inAnswered + outAnswered + inUnanswered + outUnanswered
	answer := fmt.Sprintf("The team made %d calls between %s and %s.", total, f.Start.Format("2006-01-02"), f.End.Format("2006-01-02"))

	return &model.AnswerResponse{
		Answer: answer,
		Sources: []model.AnswerSource{{
			Type:   "analytics",
			Metric: "total_calls",
			Components: map[string]interface{}{
				"incoming_answered":   inAnswered,
				"outgoing_answered":   outAnswered,
				"incoming_unanswered": inUnanswered,
				"outgoing_unanswered": outUnanswered,
			},
			DateRange: DateRangeOf(p),
		}},
	}, nil
}

// CountCalls 按方向和接通状态过滤统计通话数。
func (s *analyticsService) CountCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	f := filterOf(p)

	answered, err := s.repo.CountAnsweredCalls(tenantID, f)
	if err != nil {
		return nil, err
	}
	unanswered, err := s.repo.CountUnansweredCalls(tenantID, f)
	if err != nil {
		return nil, err
	}

	var total int64
	switch p.Answered {
	case "answered":
		total = answered
	case "unanswered":
		total = unanswered
	default:
		total = answered + unanswered
	}

	qual := ""
	if p.Answered != "" {
		qual = " " + p.Answered
	}
	dir := ""
	if p.Direction != "" {
		dir = " " + p.Direction
	}
	answer := fmt.Sprintf("%d%s%s calls between %s and %s.", total, qual, dir, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))

	return &model.AnswerResponse{
		Answer: answer,
		Sources: []model.AnswerSource{{
			Type:       "analytics",
			Metric:     "calls",
			Direction:  p.Direction,
			Answered:   p.Answered,
			Components: map[string]interface{}{"answered": answered, "unanswered": unanswered},
			DateRange:  DateRangeOf(p),
		}},
	}, nil
}

// CountBuyers 统计买家数。mode=engaged 时按窗口内有会谈的去重买家计。
func (s *analyticsService) CountBuyers(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	var count int64
	var err error
	mode := p.Mode
	if mode == "" {
		mode = "total"
	}
	if mode == "engaged" {
		count, err = s.repo.CountEngagedBuyers(tenantID, filterOf(p))
	} else {
		count, err = s.repo.CountBuyers(tenantID)
	}
	if err != nil {
		return nil, err
	}

	desc := "in your CRM"
	if mode == "engaged" {
		desc = "engaged"
	}
	answer := fmt.Sprintf("%d buyers %s between %s and %s.", count, desc, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	return &model.AnswerResponse{
		Answer:  answer,
		Sources: []model.AnswerSource{{Type: "analytics", Metric: "buyers_" + mode, DateRange: DateRangeOf(p)}},
	}, nil
}

// CountSellers 统计销售人员数。mode=active 时按窗口内有通话行为的去重人数计。
func (s *analyticsService) CountSellers(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	var count int64
	var err error
	mode := p.Mode
	if mode == "" {
		mode = "total"
	}
	if mode == "active" {
		count, err = s.repo.CountActiveSellers(tenantID, filterOf(p))
	} else {
		count, err = s.repo.CountSellers(tenantID)
	}
	if err != nil {
		return nil, err
	}
	return &model.AnswerResponse{
		Answer:  fmt.Sprintf("%d", count),
		Sources: []model.AnswerSource{{Type: "analytics", Metric: "sellers_" + mode, DateRange: DateRangeOf(p)}},
	}, nil
}

// CountProducts 统计产品数。mode=discussed 时按窗口内会谈提及的去重标注计。
func (s *analyticsService) CountProducts(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	var count int64
	var err error
	mode := p.Mode
	if mode == "" {
		mode = "catalog"
	}
	if mode == "discussed" {
		count, err = s.repo.CountDiscussedProducts(tenantID, filterOf(p))
	} else {
		count, err = s.repo.CountProducts(tenantID)
	}
	if err != nil {
		return nil, err
	}

	desc := "in catalog"
	if mode == "discussed" {
		desc = "discussed"
	}
	answer := fmt.Sprintf("%d products %s between %s and %s.", count, desc, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	return &model.AnswerResponse{
		Answer:  answer,
		Sources: []model.AnswerSource{{Type: "analytics", Metric: "products_" + mode, DateRange: DateRangeOf(p)}},
	}, nil
}

// rate 计算百分比并保留两位小数，total 为 0 时返回 0.0，绝不产生除零或 NaN。
func rate(part, total int64) float64 {
	if total <= 0 {
		return 0.0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}

// AnsweredRate 计算接通率：接通数 / (接通数 + 未接通数)。
func (s *analyticsService) AnsweredRate(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	f := repository.MeetingFilter{Start: p.Start, End: p.End}
	answered, err := s.repo.CountAnsweredCalls(tenantID, f)
	if err != nil {
		return nil, err
	}
	unanswered, err := s.repo.CountUnansweredCalls(tenantID, f)
	if err != nil {
		return nil, err
	}
	total := answered + unanswered
	r := rate(answered, total)

	return &model.AnswerResponse{
		Answer: fmt.Sprintf("%v", r),
		Sources: []model.AnswerSource{{
			Type:       "analytics",
			Metric:     "answered_rate",
			Components: map[string]interface{}{"answered": answered, "total": total},
			DateRange:  DateRangeOf(p),
		}},
	}, nil
}

// MissedRate 计算未接率：incoming 的未接通数 / 全部通话数。
func (s *analyticsService) MissedRate(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	f := repository.MeetingFilter{Start: p.Start, End: p.End}
	answered, err := s.repo.CountAnsweredCalls(tenantID, f)
	if err != nil {
		return nil, err
	}
	unanswered, err := s.repo.CountUnansweredCalls(tenantID, f)
	if err != nil {
		return nil, err
	}
	missed, err := s.repo.CountUnansweredCalls(tenantID, repository.MeetingFilter{Start: p.Start, End: p.End, Direction: "incoming"})
	if err != nil {
		return nil, err
	}
	total := answered + unanswered
	r := rate(missed, total)

	return &model.AnswerResponse{
		Answer: fmt.Sprintf("%v", r),
		Sources: []model.AnswerSource{{
			Type:       "analytics",
			Metric:     "missed_rate",
			Components: map[string]interface{}{"missed": missed, "total": total},
			DateRange:  DateRangeOf(p),
		}},
	}, nil
}

// AvgCallDuration 计算平均通话时长（秒）。
// 优先采用会谈起止时间差，没有会谈数据时退回呼叫记录的名义时长字段。
func (s *analyticsService) AvgCallDuration(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	f := filterOf(p)
	meetingAvg, err := s.repo.AvgMeetingDurationSeconds(tenantID, f)
	if err != nil {
		return nil, err
	}
	appAvg, err := s.repo.AvgAppCallDurationSeconds(tenantID, f)
	if err != nil {
		return nil, err
	}

	avg := meetingAvg
	if avg == 0 {
		avg = appAvg
	}

	dir := ""
	if p.Direction != "" {
		dir = " for " + p.Direction + " calls"
	}
	answer := fmt.Sprintf("Average call duration%s between %s and %s is %.2f seconds.",
		dir, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"), math.Round(avg*100)/100)

	return &model.AnswerResponse{
		Answer: answer,
		Sources: []model.AnswerSource{{
			Type:       "analytics",
			Metric:     "avg_call_duration_sec",
			Components: map[string]interface{}{"meetings_avg_sec": meetingAvg, "mobile_avg_sec": appAvg},
			DateRange:  DateRangeOf(p),
		}},
	}, nil
}

// TopSellersByCalls 返回通话数前 N 的销售人员。
// metric=answered 只计接通数，否则合并接通与呼叫记录的计数后排序。
func (s *analyticsService) TopSellersByCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 5
	}
	metric := p.Metric
	if metric == "" {
		metric = "total"
	}
	f := repository.MeetingFilter{Start: p.Start, End: p.End}

	answered, err := s.repo.AnsweredCallsBySeller(tenantID, f)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*repository.SellerScore, len(answered))
	for i := range answered {
		row := answered[i]
		merged[row.SellerID] = &repository.SellerScore{SellerID: row.SellerID, SellerName: row.SellerName, Score: row.Score}
	}
	if metric != "answered" {
		appCalls, err := s.repo.AppCallsBySeller(tenantID, f)
		if err != nil {
			return nil, err
		}
		for i := range appCalls {
			row := appCalls[i]
			if cur, ok := merged[row.SellerID]; ok {
				cur.Score += row.Score
			} else {
				merged[row.SellerID] = &repository.SellerScore{SellerID: row.SellerID, SellerName: row.SellerName, Score: row.Score}
			}
		}
	}

	scores := make([]repository.SellerScore, 0, len(merged))
	for _, v := range merged {
		scores = append(scores, *v)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].SellerName < scores[j].SellerName
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}

	items := make([]map[string]interface{}, 0, len(scores))
	summary := ""
	for i, sc := range scores {
		items = append(items, map[string]interface{}{
			"seller_id":   sc.SellerID,
			"seller_name": sc.SellerName,
			"score":       sc.Score,
		})
		if i > 0 {
			summary += ", "
		}
		summary += fmt.Sprintf("%d) %s (%d)", i+1, sc.SellerName, sc.Score)
	}
	if summary == "" {
		summary = "No data"
	}

	return &model.AnswerResponse{
		Answer: fmt.Sprintf("Top %d sellers by %s: %s.", limit, metric, summary),
		Sources: []model.AnswerSource{{
			Type:      "analytics",
			Metric:    "top_sellers_" + metric,
			Limit:     limit,
			Items:     items,
			DateRange: DateRangeOf(p),
		}},
	}, nil
}

// TopProductsDiscussed 返回会谈中被提及次数前 N 的产品。
func (s *analyticsService) TopProductsDiscussed(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.repo.TopProductsDiscussed(tenantID, repository.MeetingFilter{Start: p.Start, End: p.End}, limit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]interface{}, 0, len(rows))
	summary := ""
	for i, row := range rows {
		items = append(items, map[string]interface{}{"product": row.Name, "count": row.Count})
		if i > 0 {
			summary += ", "
		}
		summary += fmt.Sprintf("%d) %s (%d)", i+1, row.Name, row.Count)
	}
	if summary == "" {
		summary = "No data"
	}

	return &model.AnswerResponse{
		Answer: fmt.Sprintf("Top %d products discussed: %s.", limit, summary),
		Sources: []model.AnswerSource{{
			Type:      "analytics",
			Metric:    "top_products_discussed",
			Limit:     limit,
			Items:     items,
			DateRange: DateRangeOf(p),
		}},
	}, nil
}

// TimeseriesCalls 按日或 ISO 周输出接通/未接通的通话时间序列。
func (s *analyticsService) TimeseriesCalls(tenantID string, p IntentParams) (*model.AnswerResponse, error) {
	gran := p.Granularity
	if gran != "weekly" {
		gran = "daily"
	}
	f := repository.MeetingFilter{Start: p.Start, End: p.End}

	answeredRows, err := s.repo.AnsweredCallsPerBucket(tenantID, f, gran)
	if err != nil {
		return nil, err
	}
	unansweredRows, err := s.repo.UnansweredCallsPerBucket(tenantID, f, gran)
	if err != nil {
		return nil, err
	}

	answeredBy := make(map[string]int64, len(answeredRows))
	for _, row := range answeredRows {
		answeredBy[row.Bucket] = row.Count
	}
	unansweredBy := make(map[string]int64, len(unansweredRows))
	for _, row := range unansweredRows {
		unansweredBy[row.Bucket] = row.Count
	}

	bucketSet := make(map[string]struct{}, len(answeredBy)+len(unansweredBy))
	for b := range answeredBy {
		bucketSet[b] = struct{}{}
	}
	for b := range unansweredBy {
		bucketSet[b] = struct{}{}
	}
	buckets := make([]string, 0, len(bucketSet))
	for b := range bucketSet {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	series := make([]model.TimeseriesPoint, 0, len(buckets))
	var totalAnswered, totalUnanswered int64
	peak := ""
	var peakTotal int64 = -1
	for _, b := range buckets {
		point := model.TimeseriesPoint{
			Bucket:     b,
			Answered:   answeredBy[b],
			Unanswered: unansweredBy[b],
			Total:      answeredBy[b] + unansweredBy[b],
		}
		series = append(series, point)
		totalAnswered += point.Answered
		totalUnanswered += point.Unanswered
		if point.Total > peakTotal {
			peakTotal = point.Total
			peak = b
		}
	}

	granTxt := "Daily"
	if gran == "weekly" {
		granTxt = "Weekly"
	}
	answer := fmt.Sprintf("%s calls from %s to %s: answered %d, unanswered %d.",
		granTxt, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"), totalAnswered, totalUnanswered)
	if peak != "" {
		answer += fmt.Sprintf(" Peak on %s.", peak)
	}

	return &model.AnswerResponse{
		Answer: answer,
		Sources: []model.AnswerSource{{
			Type:      "analytics",
			Metric:    "timeseries_calls_" + gran,
			Series:    series,
			DateRange: DateRangeOf(p),
		}},
	}, nil
}

// SellerProductCalls 统计某销售人员谈及某产品的会谈数，附带示例会谈主键。
func (s *analyticsService) SellerProductCalls(tenantID, sellerID string, p IntentParams) (*model.AnswerResponse, error) {
	count, exampleIDs, err := s.repo.SellerProductMeetings(tenantID, sellerID, p.ProductQuery,
		repository.MeetingFilter{Start: p.Start, End: p.End}, 5)
	if err != nil {
		return nil, err
	}

	log.Debugf("[Analytics] seller=%s product=%q count=%d", sellerID, p.ProductQuery, count)

	examples := make([]map[string]interface{}, 0, len(exampleIDs))
	for _, id := range exampleIDs {
		examples = append(examples, map[string]interface{}{"meeting_id": id})
	}

	return &model.AnswerResponse{
		Answer: fmt.Sprintf("%d", count),
		Sources: []model.AnswerSource{{
			Type:      "analytics",
			Metric:    "seller_product_calls",
			SellerID:  sellerID,
			Items:     examples,
			DateRange: DateRangeOf(p),
		}},
	}, nil
}

// 确保时间窗字段在默认情况下也是闭合的，避免零值时间参与 SQL 比较。
func normalizeWindow(p *IntentParams, now time.Time) {
	if p.Start.IsZero() && p.End.IsZero() {
		currentMonthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		p.Start = currentMonthStart.AddDate(0, -1, 0)
		p.End = now
	}
	if p.End.IsZero() {
		p.End = now
	}
}
