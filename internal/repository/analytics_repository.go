package repository

import (
	"time"

	"gorm.io/gorm"

	"salespulse-go/internal/model"
)

// NameCount 是"名称 + 计数"形式的聚合行。
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// SellerScore 是 Top-N 销售人员榜单中的一行。
type SellerScore struct {
	SellerID   string `json:"seller_id"`
	SellerName string `json:"seller_name"`
	Score      int64  `json:"score"`
}

// BucketCount 是按日或按周分桶的聚合行。
type BucketCount struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// MeetingFilter 约束通话统计的口径。
type MeetingFilter struct {
	Start     time.Time
	End       time.Time
	Direction string // incoming | outgoing，空串表示不限
}

// AnalyticsRepository 接口定义了确定性分析指标所需的聚合查询。
// 所有方法的第一个参数都是租户主键，事实表通过 sellers 关联做隔离。
type AnalyticsRepository interface {
	CountAnsweredCalls(tenantID string, f MeetingFilter) (int64, error)
	CountUnansweredCalls(tenantID string, f MeetingFilter) (int64, error)
	CountBuyers(tenantID string) (int64, error)
	CountEngagedBuyers(tenantID string, f MeetingFilter) (int64, error)
	CountSellers(tenantID string) (int64, error)
	CountActiveSellers(tenantID string, f MeetingFilter) (int64, error)
	CountProducts(tenantID string) (int64, error)
	CountDiscussedProducts(tenantID string, f MeetingFilter) (int64, error)
	AvgMeetingDurationSeconds(tenantID string, f MeetingFilter) (float64, error)
	AvgAppCallDurationSeconds(tenantID string, f MeetingFilter) (float64, error)
	AnsweredCallsBySeller(tenantID string, f MeetingFilter) ([]SellerScore, error)
	AppCallsBySeller(tenantID string, f MeetingFilter) ([]SellerScore, error)
	TopProductsDiscussed(tenantID string, f MeetingFilter, limit int) ([]NameCount, error)
	AnsweredCallsPerBucket(tenantID string, f MeetingFilter, granularity string) ([]BucketCount, error)
	UnansweredCallsPerBucket(tenantID string, f MeetingFilter, granularity string) ([]BucketCount, error)
	SellerProductMeetings(tenantID, sellerID, productQuery string, f MeetingFilter, maxExamples int) (int64, []string, error)
}

// analyticsRepository 是 AnalyticsRepository 接口的 GORM 实现。
type analyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository 创建一个新的 AnalyticsRepository 实例。
func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

// scopedMeetings 构建已做租户隔离和时间窗过滤的 meetings 查询基底。
func (r *analyticsRepository) scopedMeetings(tenantID string, f MeetingFilter) *gorm.DB {
	q := r.db.Model(&model.Meeting{}).
		Joins("JOIN sellers ON sellers.id = meetings.seller_id AND sellers.agency_id = ?", tenantID).
		Where("meetings.start_time BETWEEN ? AND ?", f.Start, f.End)
	if f.Direction != "" {
		q = q.Where("meetings.direction = ?", f.Direction)
	}
	return q
}

// scopedAppCalls 构建已做租户隔离和时间窗过滤的 app_calls 查询基底。
func (r *analyticsRepository) scopedAppCalls(tenantID string, f MeetingFilter) *gorm.DB {
	q := r.db.Model(&model.AppCall{}).
		Joins("JOIN sellers ON sellers.id = app_calls.user_id AND sellers.agency_id = ?", tenantID).
		Where("app_calls.start_time BETWEEN ? AND ?", f.Start, f.End)
	if f.Direction != "" {
		q = q.Where("app_calls.call_type = ?", f.Direction)
	}
	return q
}

// unansweredCondition 按方向套用未接通口径：
// incoming 的 missed/rejected，outgoing 的 not_answered。
func unansweredCondition(q *gorm.DB, direction string) *gorm.DB {
	switch direction {
	case "incoming":
		return q.Where("app_calls.status IN ?", []string{model.AppCallStatusMissed, model.AppCallStatusRejected})
	case "outgoing":
		return q.Where("app_calls.status = ?", model.AppCallStatusNotAnswered)
	default:
		return q.Where("(app_calls.call_type = 'incoming' AND app_calls.status IN ?) OR (app_calls.call_type = 'outgoing' AND app_calls.status = ?)",
			[]string{model.AppCallStatusMissed, model.AppCallStatusRejected}, model.AppCallStatusNotAnswered)
	}
}

// CountAnsweredCalls 统计窗口内接通的通话数（meetings 表）。
func (r *analyticsRepository) CountAnsweredCalls(tenantID string, f MeetingFilter) (int64, error) {
	var count int64
	err := r.scopedMeetings(tenantID, f).Count(&count).Error
	return count, err
}

// CountUnansweredCalls 统计窗口内未接通的通话数（app_calls 表）。
func (r *analyticsRepository) CountUnansweredCalls(tenantID string, f MeetingFilter) (int64, error) {
	var count int64
	err := unansweredCondition(r.scopedAppCalls(tenantID, f), f.Direction).Count(&count).Error
	return count, err
}

// CountBuyers 统计租户下的买家总数。
func (r *analyticsRepository) CountBuyers(tenantID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Buyer{}).Where("agency_id = ?", tenantID).Count(&count).Error
	return count, err
}

// CountEngagedBuyers 统计窗口内有过会谈的去重买家数。
func (r *analyticsRepository) CountEngagedBuyers(tenantID string, f MeetingFilter) (int64, error) {
	var count int64
	err := r.scopedMeetings(tenantID, f).
		Distinct("meetings.buyer_id").
		Count(&count).Error
	return count, err
}

// CountSellers 统计租户下的销售人员总数。
func (r *analyticsRepository) CountSellers(tenantID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Seller{}).Where("agency_id = ?", tenantID).Count(&count).Error
	return count, err
}

// CountActiveSellers 统计窗口内出现在会谈或呼叫记录中的去重销售人员数。
func (r *analyticsRepository) CountActiveSellers(tenantID string, f MeetingFilter) (int64, error) {
	var count int64
	err := r.db.Model(&model.Seller{}).
		Where("agency_id = ?", tenantID).
		Where("id IN (?) OR id IN (?)",
			r.db.Model(&model.Meeting{}).Select("DISTINCT seller_id").Where("start_time BETWEEN ? AND ?", f.Start, f.End),
			r.db.Model(&model.AppCall{}).Select("DISTINCT user_id").Where("start_time BETWEEN ? AND ?", f.Start, f.End)).
		Count(&count).Error
	return count, err
}

// CountProducts 统计租户下的产品总数。
func (r *analyticsRepository) CountProducts(tenantID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Product{}).Where("agency_id = ?", tenantID).Count(&count).Error
	return count, err
}

// CountDiscussedProducts 统计窗口内会谈里出现过的去重产品标注数。
func (r *analyticsRepository) CountDiscussedProducts(tenantID string, f MeetingFilter) (int64, error) {
	var count int64
	err := r.scopedMeetings(tenantID, f).
		Where("meetings.detected_products IS NOT NULL AND meetings.detected_products != ''").
		Distinct("meetings.detected_products").
		Count(&count).Error
	return count, err
}

// AvgMeetingDurationSeconds 计算窗口内接通通话的平均时长（秒），无数据时返回 0。
func (r *analyticsRepository) AvgMeetingDurationSeconds(tenantID string, f MeetingFilter) (float64, error) {
	var avg *float64
	err := r.scopedMeetings(tenantID, f).
		Where("meetings.end_time IS NOT NULL").
		Select("AVG(TIMESTAMPDIFF(SECOND, meetings.start_time, meetings.end_time))").
		Scan(&avg).Error
	if err != nil || avg == nil {
		return 0, err
	}
	return *avg, nil
}

// AvgAppCallDurationSeconds 计算窗口内呼叫记录的名义平均时长（秒），无数据时返回 0。
func (r *analyticsRepository) AvgAppCallDurationSeconds(tenantID string, f MeetingFilter) (float64, error) {
	var avg *float64
	err := r.scopedAppCalls(tenantID, f).
		Select("AVG(app_calls.duration)").
		Scan(&avg).Error
	if err != nil || avg == nil {
		return 0, err
	}
	return *avg, nil
}

// AnsweredCallsBySeller 按销售人员分组统计窗口内的接通通话数。
func (r *analyticsRepository) AnsweredCallsBySeller(tenantID string, f MeetingFilter) ([]SellerScore, error) {
	var rows []SellerScore
	err := r.scopedMeetings(tenantID, f).
		Select("sellers.id AS seller_id, sellers.name AS seller_name, COUNT(*) AS score").
		Group("sellers.id, sellers.name").
		Scan(&rows).Error
	return rows, err
}

// AppCallsBySeller 按销售人员分组统计窗口内的呼叫记录数。
func (r *analyticsRepository) AppCallsBySeller(tenantID string, f MeetingFilter) ([]SellerScore, error) {
	var rows []SellerScore
	err := r.scopedAppCalls(tenantID, f).
		Select("sellers.id AS seller_id, sellers.name AS seller_name, COUNT(*) AS score").
		Group("sellers.id, sellers.name").
		Scan(&rows).Error
	return rows, err
}

// TopProductsDiscussed 按会谈中被提及的次数降序返回前 limit 个产品标注。
func (r *analyticsRepository) TopProductsDiscussed(tenantID string, f MeetingFilter, limit int) ([]NameCount, error) {
	var rows []NameCount
	err := r.scopedMeetings(tenantID, f).
		Where("meetings.detected_products IS NOT NULL AND meetings.detected_products != ''").
		Select("meetings.detected_products AS name, COUNT(*) AS count").
		Group("meetings.detected_products").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// bucketExpr 返回分桶表达式：daily 按自然日，weekly 按 ISO 周。
func bucketExpr(column, granularity string) string {
	if granularity == "weekly" {
		return "DATE_FORMAT(" + column + ", '%x-W%v')"
	}
	return "DATE_FORMAT(" + column + ", '%Y-%m-%d')"
}

// AnsweredCallsPerBucket 按桶统计窗口内的接通通话数，桶按键升序。
func (r *analyticsRepository) AnsweredCallsPerBucket(tenantID string, f MeetingFilter, granularity string) ([]BucketCount, error) {
	var rows []BucketCount
	err := r.scopedMeetings(tenantID, f).
		Select(bucketExpr("meetings.start_time", granularity) + " AS bucket, COUNT(*) AS count").
		Group("bucket").
		Order("bucket ASC").
		Scan(&rows).Error
	return rows, err
}

// UnansweredCallsPerBucket 按桶统计窗口内的未接通通话数，桶按键升序。
func (r *analyticsRepository) UnansweredCallsPerBucket(tenantID string, f MeetingFilter, granularity string) ([]BucketCount, error) {
	var rows []BucketCount
	err := unansweredCondition(r.scopedAppCalls(tenantID, f), "").
		Select(bucketExpr("app_calls.start_time", granularity) + " AS bucket, COUNT(*) AS count").
		Group("bucket").
		Order("bucket ASC").
		Scan(&rows).Error
	return rows, err
}

// SellerProductMeetings 统计指定销售人员谈及指定产品的会谈数，
// 并返回时间倒序的最多 maxExamples 条示例会谈主键。
func (r *analyticsRepository) SellerProductMeetings(tenantID, sellerID, productQuery string, f MeetingFilter, maxExamples int) (int64, []string, error) {
	scope := func() *gorm.DB {
		q := r.scopedMeetings(tenantID, f).Where("meetings.seller_id = ?", sellerID)
		if productQuery != "" {
			q = q.Where("meetings.detected_products LIKE ?", "%"+productQuery+"%")
		}
		return q
	}

	var count int64
	if err := scope().Count(&count).Error; err != nil {
		return 0, nil, err
	}

	var ids []string
	err := scope().Order("meetings.start_time DESC").Limit(maxExamples).Pluck("meetings.id", &ids).Error
	if err != nil {
		return 0, nil, err
	}
	return count, ids, nil
}
