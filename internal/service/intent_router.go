// Package service 实现了问答、检索、索引与分析的业务逻辑。
package service

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"salespulse-go/internal/model"
)

// IntentKind 是封闭的意图标签集合，每个标签对应唯一一条分发路径。
type IntentKind string

const (
	KindCountCalls           IntentKind = "analytics_count_calls"
	KindCountTotalCalls      IntentKind = "analytics_count_total_calls"
	KindSellerProductCalls   IntentKind = "analytics_count_calls_by_seller_for_product"
	KindCountBuyers          IntentKind = "analytics_count_buyers"
	KindCountSellers         IntentKind = "analytics_count_sellers"
	KindCountProducts        IntentKind = "analytics_count_products"
	KindAnsweredRate         IntentKind = "analytics_answered_rate"
	KindMissedRate           IntentKind = "analytics_missed_rate"
	KindAvgCallDuration      IntentKind = "analytics_avg_call_duration"
	KindTopSellersByCalls    IntentKind = "analytics_top_sellers_by_calls"
	KindTopProductsDiscussed IntentKind = "analytics_top_products_discussed"
	KindTimeseriesCalls      IntentKind = "analytics_timeseries_calls"
	KindRAGAnswer            IntentKind = "rag_answer"
)

// IsAnalytics 判断意图是否属于分析类。
func (k IntentKind) IsAnalytics() bool {
	return strings.HasPrefix(string(k), "analytics_")
}

// IntentParams 是路由阶段抽取出的结构化参数。
type IntentParams struct {
	Start        time.Time
	End          time.Time
	Direction    string // incoming | outgoing，空串表示不限
	Answered     string // answered | unanswered，空串表示不限
	SellerName   string
	ProductQuery string
	Mode         string // total | engaged | active | catalog | discussed
	Metric       string // total | answered
	Granularity  string // daily | weekly
	Limit        int
}

// Intent 是意图路由的输出，kind 永远非空。
type Intent struct {
	Kind   IntentKind
	Params IntentParams
}

// 预编译的匹配规则。大小写统一在入口处转小写，规则只处理小写文本。
var (
	reExplicitRange = regexp.MustCompile(`(from|between)\s+(\d{4}-\d{2}-\d{2})\s+(to|and)\s+(\d{4}-\d{2}-\d{2})`)
	reLastNDays     = regexp.MustCompile(`last\s+(\d{1,3})\s+days?`)

	reCountCalls     = regexp.MustCompile(`\b(how many|count of|total)\s+((outgoing|incoming|answered|unanswered|missed|rejected)\s+)*(calls|meetings)\b`)
	reMade           = regexp.MustCompile(`\bmade\b|\boutgoing\b`)
	reReceived       = regexp.MustCompile(`\breceived\b|\bincoming\b`)
	reUnanswered     = regexp.MustCompile(`\bmissed\b|\brejected\b|not answered`)
	reAnswered       = regexp.MustCompile(`\banswered\b|\bconnected\b`)
	reSellerProduct  = regexp.MustCompile(`\b(calls|meetings)\b.*\bfor\b`)
	reByOrFrom       = regexp.MustCompile(`\bby\b|\bfrom\b`)
	reProductPhrase  = regexp.MustCompile(`(?i)\bfor\s+(.+?)(?:\s+by\s+.*)?$`)
	reSellerPhrase   = regexp.MustCompile(`(?i)\bby\s+(.+?)(?:\s+for\s+.*)?$`)
	reCountBuyers    = regexp.MustCompile(`\b(how many|number of|count of)\s+(buyers|leads|customers)\b`)
	reEngaged        = regexp.MustCompile(`\bcontacted|engaged|called|met\b`)
	reCountSellers   = regexp.MustCompile(`\b(how many|number of|count of)\s+(sellers|agents|reps|users|team members)\b`)
	reActive         = regexp.MustCompile(`\bactive|made calls|received calls|called\b`)
	reCountProducts  = regexp.MustCompile(`\b(how many|number of|count of)\s+(products|skus|items)\b`)
	reDiscussed      = regexp.MustCompile(`\bdiscussed|talked about|mentioned\b`)
	reTopSellersCall = regexp.MustCompile(`\b(top|best)\s+(\d{1,2}\s+)?(sellers|agents|reps|users)\b.*\b(by|for)\s+(number of\s+)?calls\b`)
	reTopSellers     = regexp.MustCompile(`\b(top|best)\s+(\d{1,2}\s+)?(sellers|agents|reps|users)\b`)
	reTopProducts    = regexp.MustCompile(`\b(top|most discussed)\s+(\d{1,2}\s+)?products\b`)
	reTopN           = regexp.MustCompile(`\btop\s+(\d{1,2})\b`)
	reAnsweredRate   = regexp.MustCompile(`\b(answered rate|connect rate|answer rate)\b`)
	reMissedRate     = regexp.MustCompile(`\b(missed rate|rejected rate)\b`)
	reAvgDirectional = regexp.MustCompile(`\b(avg|average)\s+(outgoing|incoming)(\s+calls?)?\s*(duration|time)?\b`)
	reAvgDuration    = regexp.MustCompile(`\baverage\s+(call\s+)?duration\b|\b(avg|average)\s+call\s*time\b`)
	reTimeseries     = regexp.MustCompile(`\b(time[-\s]?series|trend|over time)\b|\b(daily|weekly)\b`)
)

// 月份名按年历顺序求值，保证同句出现多个月份名时结果可复现。
var monthNames = []struct {
	name  string
	month time.Month
}{
	{"january", time.January}, {"february", time.February}, {"march", time.March},
	{"april", time.April}, {"may", time.May}, {"june", time.June},
	{"july", time.July}, {"august", time.August}, {"september", time.September},
	{"october", time.October}, {"november", time.November}, {"december", time.December},
}

// routeRule 是一条有序匹配规则，build 返回 nil 表示不命中。
type routeRule struct {
	name  string
	build func(lower, raw string, start, end time.Time) *Intent
}

// IntentRouter 将自由文本映射为类型化意图。确定性、无 I/O。
type IntentRouter struct {
	rules []routeRule
}

// NewIntentRouter 创建一个新的 IntentRouter 实例。
func NewIntentRouter() *IntentRouter {
	r := &IntentRouter{}
	r.rules = buildRules()
	return r
}

// Route 以当前时刻为基准路由一个问题。
func (r *IntentRouter) Route(query string) Intent {
	return r.RouteAt(query, time.Now())
}

// RouteAt 路由一个问题。规则按声明顺序求值，首个命中者胜出；
// 无规则命中时退化为 rag_answer 并附带解析出的时间窗，永不报错。
func (r *IntentRouter) RouteAt(query string, now time.Time) Intent {
	raw := strings.TrimSpace(query)
	lower := strings.ToLower(raw)

	start, end := resolveDateRange(lower, now)

	for _, rule := range r.rules {
		if intent := rule.build(lower, raw, start, end); intent != nil {
			return *intent
		}
	}
	return Intent{Kind: KindRAGAnswer, Params: IntentParams{Start: start, End: end}}
}

// buildRules 构建有序规则表。顺序即优先级：更具体的形式排在前面，
// 计数类先于比率类，避免"answered rate"被泛化的 answered 关键词截获。
func buildRules() []routeRule {
	return []routeRule{
		{name: "count_calls", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reCountCalls.MatchString(lower) {
				return nil
			}
			p := IntentParams{Start: start, End: end}
			if reMade.MatchString(lower) {
				p.Direction = "outgoing"
			} else if reReceived.MatchString(lower) {
				p.Direction = "incoming"
			}
			if reUnanswered.MatchString(lower) {
				p.Answered = "unanswered"
			} else if reAnswered.MatchString(lower) {
				p.Answered = "answered"
			}
			// 无任何过滤的"total calls"走专门的总量口径（接通+未接通的四分量拆解）
			if p.Direction == "" && p.Answered == "" && strings.Contains(lower, "total") {
				return &Intent{Kind: KindCountTotalCalls, Params: p}
			}
			return &Intent{Kind: KindCountCalls, Params: p}
		}},
		{name: "seller_product_calls", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reSellerProduct.MatchString(lower) || !reByOrFrom.MatchString(lower) {
				return nil
			}
			p := IntentParams{Start: start, End: end}
			if m := reProductPhrase.FindStringSubmatch(raw); m != nil {
				p.ProductQuery = trimTimePhrase(strings.TrimRight(strings.TrimSpace(m[1]), "?.,"))
			}
			if m := reSellerPhrase.FindStringSubmatch(raw); m != nil {
				p.SellerName = trimTimePhrase(strings.TrimRight(strings.TrimSpace(m[1]), "?.,"))
			}
			return &Intent{Kind: KindSellerProductCalls, Params: p}
		}},
		{name: "count_buyers", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reCountBuyers.MatchString(lower) {
				return nil
			}
			mode := "total"
			if reEngaged.MatchString(lower) {
				mode = "engaged"
			}
			return &Intent{Kind: KindCountBuyers, Params: IntentParams{Start: start, End: end, Mode: mode}}
		}},
		{name: "count_sellers", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reCountSellers.MatchString(lower) {
				return nil
			}
			mode := "total"
			if reActive.MatchString(lower) {
				mode = "active"
			}
			return &Intent{Kind: KindCountSellers, Params: IntentParams{Start: start, End: end, Mode: mode}}
		}},
		{name: "count_products", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reCountProducts.MatchString(lower) {
				return nil
			}
			mode := "catalog"
			if reDiscussed.MatchString(lower) {
				mode = "discussed"
			}
			return &Intent{Kind: KindCountProducts, Params: IntentParams{Start: start, End: end, Mode: mode}}
		}},
		// "top sellers by calls" 必须先于泛化的 top sellers 与比率规则求值
		{name: "top_sellers_by_calls", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reTopSellersCall.MatchString(lower) {
				return nil
			}
			return &Intent{Kind: KindTopSellersByCalls, Params: IntentParams{Start: start, End: end, Metric: "total", Limit: parseTopN(lower)}}
		}},
		{name: "top_sellers", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reTopSellers.MatchString(lower) {
				return nil
			}
			metric := "total"
			if reAnswered.MatchString(lower) {
				metric = "answered"
			}
			return &Intent{Kind: KindTopSellersByCalls, Params: IntentParams{Start: start, End: end, Metric: metric, Limit: parseTopN(lower)}}
		}},
		{name: "top_products", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reTopProducts.MatchString(lower) {
				return nil
			}
			return &Intent{Kind: KindTopProductsDiscussed, Params: IntentParams{Start: start, End: end, Limit: parseTopN(lower)}}
		}},
		{name: "answered_rate", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reAnsweredRate.MatchString(lower) {
				return nil
			}
			return &Intent{Kind: KindAnsweredRate, Params: IntentParams{Start: start, End: end}}
		}},
		{name: "missed_rate", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reMissedRate.MatchString(lower) {
				return nil
			}
			return &Intent{Kind: KindMissedRate, Params: IntentParams{Start: start, End: end}}
		}},
		{name: "avg_duration_directional", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reAvgDirectional.MatchString(lower) {
				return nil
			}
			dir := "incoming"
			if strings.Contains(lower, "outgoing") {
				dir = "outgoing"
			}
			return &Intent{Kind: KindAvgCallDuration, Params: IntentParams{Start: start, End: end, Direction: dir}}
		}},
		{name: "avg_duration", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reAvgDuration.MatchString(lower) {
				return nil
			}
			p := IntentParams{Start: start, End: end}
			if strings.Contains(lower, "incoming") || strings.Contains(lower, "received") {
				p.Direction = "incoming"
			} else if strings.Contains(lower, "outgoing") || strings.Contains(lower, "made") {
				p.Direction = "outgoing"
			}
			return &Intent{Kind: KindAvgCallDuration, Params: p}
		}},
		{name: "timeseries", build: func(lower, raw string, start, end time.Time) *Intent {
			if !reTimeseries.MatchString(lower) {
				return nil
			}
			gran := "daily"
			if strings.Contains(lower, "weekly") {
				gran = "weekly"
			}
			return &Intent{Kind: KindTimeseriesCalls, Params: IntentParams{Start: start, End: end, Granularity: gran}}
		}},
	}
}

// timePhraseMarkers 是实体短语里出现即截断的时间表述前缀。
var timePhraseMarkers = []string{
	" last ", " this ", " yesterday", " today", " between ", " from ", " during ", " over the ",
}

// trimTimePhrase 把抽取出的实体短语中的尾随时间表述剪掉，
// 例如 "Solar Panel X last month" -> "Solar Panel X"。
func trimTimePhrase(s string) string {
	lower := strings.ToLower(s)
	cut := len(s)
	for _, marker := range timePhraseMarkers {
		if idx := strings.Index(lower, marker); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(s[:cut])
}

// parseTopN 解析"top N"中的 N，缺省为 5。
func parseTopN(lower string) int {
	if m := reTopN.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

// resolveDateRange 解析问题文本中的时间表述。
// 优先级：显式区间 > 相对表述 > 月份名；都未命中时默认为上个整月初至当前时刻。
func resolveDateRange(lower string, now time.Time) (time.Time, time.Time) {
	if s, e, ok := parseRelativeRange(lower, now); ok {
		return s, e
	}
	if s, e, ok := parseMonthRange(lower, now); ok {
		return s, e
	}
	currentMonthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	lastMonthStart := currentMonthStart.AddDate(0, -1, 0)
	return lastMonthStart, now
}

// parseRelativeRange 解析 today / yesterday / this|last week / this|last month
// / last N days / 显式 from-to 区间。周以周一为起点。
func parseRelativeRange(lower string, now time.Time) (time.Time, time.Time, bool) {
	loc := now.Location()

	if m := reExplicitRange.FindStringSubmatch(lower); m != nil {
		s, err1 := time.ParseInLocation("2006-01-02", m[2], loc)
		e, err2 := time.ParseInLocation("2006-01-02", m[4], loc)
		if err1 == nil && err2 == nil {
			return s, endOfDay(e), true
		}
	}

	startOfDay := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}

	if strings.Contains(lower, "today") {
		return startOfDay(now), endOfDay(now), true
	}
	if strings.Contains(lower, "yesterday") {
		y := now.AddDate(0, 0, -1)
		return startOfDay(y), endOfDay(y), true
	}
	if strings.Contains(lower, "this week") {
		start := startOfDay(now.AddDate(0, 0, -mondayOffset(now)))
		return start, endOfDay(start.AddDate(0, 0, 6)), true
	}
	if strings.Contains(lower, "last week") {
		start := startOfDay(now.AddDate(0, 0, -mondayOffset(now)-7))
		return start, endOfDay(start.AddDate(0, 0, 6)), true
	}
	if strings.Contains(lower, "this month") {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0).Add(-time.Microsecond), true
	}
	if strings.Contains(lower, "last month") {
		currentMonthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return currentMonthStart.AddDate(0, -1, 0), currentMonthStart.Add(-time.Microsecond), true
	}
	if m := reLastNDays.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return startOfDay(now.AddDate(0, 0, -n)), now, true
		}
	}
	return time.Time{}, time.Time{}, false
}

// parseMonthRange 解析月份名表述（如 "in January"），取当年的该整月。
func parseMonthRange(lower string, now time.Time) (time.Time, time.Time, bool) {
	for _, m := range monthNames {
		if strings.Contains(lower, m.name) {
			start := time.Date(now.Year(), m.month, 1, 0, 0, 0, 0, now.Location())
			return start, start.AddDate(0, 1, 0).Add(-time.Microsecond), true
		}
	}
	return time.Time{}, time.Time{}, false
}

// mondayOffset 返回 t 距本周周一的天数。
func mondayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999999*time.Microsecond), t.Location())
}

// DateRangeOf 把意图参数里的时间窗转换为响应结构中的 DateRange。
func DateRangeOf(p IntentParams) *model.DateRange {
	return &model.DateRange{
		Start: p.Start.Format(time.RFC3339),
		End:   p.End.Format(time.RFC3339),
	}
}
