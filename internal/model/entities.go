// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Agency 定义了 agencies 表的 ORM 模型，一个 Agency 即一个租户。
type Agency struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Agency) TableName() string {
	return "agencies"
}

// Seller 定义了 sellers 表的 ORM 模型。
// agency_id 是所有查询的租户隔离列，任何分析与检索都以它为边界。
type Seller struct {
	ID           string    `gorm:"type:char(36);primaryKey" json:"id"`
	AgencyID     string    `gorm:"type:char(36);not null;index" json:"agencyId"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Phone        string    `gorm:"type:varchar(32)" json:"phone"`
	Role         string    `gorm:"type:varchar(32);default:'SELLER'" json:"role"`
	PasswordHash string    `gorm:"type:varchar(255)" json:"-"`
	ManagerID    *string   `gorm:"type:char(36)" json:"managerId"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Seller) TableName() string {
	return "sellers"
}

// Buyer 定义了 buyers 表的 ORM 模型。
type Buyer struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	AgencyID    string    `gorm:"type:char(36);not null;index" json:"agencyId"`
	Phone       string    `gorm:"type:varchar(32)" json:"phone"`
	Name        string    `gorm:"type:varchar(255)" json:"name"`
	Email       string    `gorm:"type:varchar(255)" json:"email"`
	CompanyName string    `gorm:"type:varchar(255)" json:"companyName"`
	Tags        string    `gorm:"type:text" json:"tags"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Buyer) TableName() string {
	return "buyers"
}

// Product 定义了 products 表的 ORM 模型，按租户维护的产品目录。
type Product struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	AgencyID    string    `gorm:"type:char(36);not null;index" json:"agencyId"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Features    string    `gorm:"type:text" json:"features"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Product) TableName() string {
	return "products"
}

// Meeting 定义了 meetings 表的 ORM 模型，一条记录即一次接通的通话/会谈。
// 口径约定：接通的通话只存在于 meetings，未接通只存在于 app_calls，两边互斥。
type Meeting struct {
	ID               string     `gorm:"type:char(36);primaryKey" json:"id"`
	BuyerID          string     `gorm:"type:char(36);index" json:"buyerId"`
	SellerID         string     `gorm:"type:char(36);not null;index" json:"sellerId"`
	Source           string     `gorm:"type:varchar(32)" json:"source"`
	StartTime        time.Time  `gorm:"index" json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	Direction        string     `gorm:"type:varchar(16)" json:"direction"` // incoming | outgoing
	Title            string     `gorm:"type:varchar(255)" json:"title"`
	Transcription    string     `gorm:"type:longtext" json:"transcription"`
	TranscriptObject string     `gorm:"type:varchar(255)" json:"transcriptObject"` // 超长转写存 MinIO 时的对象名
	Summary          string     `gorm:"type:text" json:"summary"`                  // JSON 数组形式的要点列表
	DetectedProducts string     `gorm:"type:text" json:"detectedProducts"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

func (Meeting) TableName() string {
	return "meetings"
}

// 未接通话在 app_calls.status 中的取值。
const (
	AppCallStatusMissed      = "missed"
	AppCallStatusRejected    = "rejected"
	AppCallStatusNotAnswered = "not_answered"
)

// AppCall 定义了 app_calls 表的 ORM 模型，来自手机端上报的原始呼叫记录。
// 未接通口径：incoming 的 missed/rejected，outgoing 的 not_answered。
type AppCall struct {
	ID           string     `gorm:"type:char(36);primaryKey" json:"id"`
	BuyerNumber  string     `gorm:"type:varchar(32)" json:"buyerNumber"`
	SellerNumber string     `gorm:"type:varchar(32)" json:"sellerNumber"`
	CallType     string     `gorm:"type:varchar(16)" json:"callType"` // incoming | outgoing
	Status       string     `gorm:"type:varchar(32)" json:"status"`
	StartTime    time.Time  `gorm:"index" json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
	Duration     int        `json:"duration"` // 秒
	UserID       string     `gorm:"type:char(36);not null;index" json:"userId"` // -> sellers.id
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

func (AppCall) TableName() string {
	return "app_calls"
}

// CallPerformance 定义了 call_performances 表的 ORM 模型，逐次会谈的质检评分。
type CallPerformance struct {
	ID                        string     `gorm:"type:char(36);primaryKey" json:"id"`
	MeetingID                 string     `gorm:"type:char(36);not null;index" json:"meetingId"`
	Intro                     string     `gorm:"type:text" json:"intro"`
	RapportBuilding           string     `gorm:"type:text" json:"rapportBuilding"`
	ObjectionHandling         string     `gorm:"type:text" json:"objectionHandling"`
	ClosureAndNextSteps       string     `gorm:"type:text" json:"closureAndNextSteps"`
	OverallPerformanceSummary string     `gorm:"type:text" json:"overallPerformanceSummary"`
	OverallScore              float64    `json:"overallScore"`
	AnalyzedAt                *time.Time `json:"analyzedAt"`
	CreatedAt                 time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt                 time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (CallPerformance) TableName() string {
	return "call_performances"
}
