package repository

import (
	"gorm.io/gorm"

	"salespulse-go/internal/model"
)

// EntityRepository 接口定义了索引流水线按租户加载源实体的查询。
// 每个方法都会校验实体确实属于给定租户，避免跨租户的消息污染索引。
type EntityRepository interface {
	FindMeetingForTenant(tenantID, meetingID string) (*model.Meeting, error)
	FindBuyerForTenant(tenantID, buyerID string) (*model.Buyer, error)
	FindProductForTenant(tenantID, productID string) (*model.Product, error)
	FindAppCallForTenant(tenantID, callID string) (*model.AppCall, error)
	ListMeetingIDs(tenantID string) ([]string, error)
	ListBuyerIDs(tenantID string) ([]string, error)
	ListSellerIDs(tenantID string) ([]string, error)
	ListProductIDs(tenantID string) ([]string, error)
	ListAppCallIDs(tenantID string) ([]string, error)
}

// entityRepository 是 EntityRepository 接口的 GORM 实现。
type entityRepository struct {
	db *gorm.DB
}

// NewEntityRepository 创建一个新的 EntityRepository 实例。
func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepository{db: db}
}

// FindMeetingForTenant 加载一条会谈记录，并确认其销售人员属于给定租户。
func (r *entityRepository) FindMeetingForTenant(tenantID, meetingID string) (*model.Meeting, error) {
	var meeting model.Meeting
	err := r.db.
		Joins("JOIN sellers ON sellers.id = meetings.seller_id AND sellers.agency_id = ?", tenantID).
		Where("meetings.id = ?", meetingID).
		First(&meeting).Error
	if err != nil {
		return nil, err
	}
	return &meeting, nil
}

// FindBuyerForTenant 加载一条属于给定租户的买家记录。
func (r *entityRepository) FindBuyerForTenant(tenantID, buyerID string) (*model.Buyer, error) {
	var buyer model.Buyer
	err := r.db.Where("id = ? AND agency_id = ?", buyerID, tenantID).First(&buyer).Error
	if err != nil {
		return nil, err
	}
	return &buyer, nil
}

// FindProductForTenant 加载一条属于给定租户的产品记录。
func (r *entityRepository) FindProductForTenant(tenantID, productID string) (*model.Product, error) {
	var product model.Product
	err := r.db.Where("id = ? AND agency_id = ?", productID, tenantID).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindAppCallForTenant 加载一条呼叫记录，并确认其上报人属于给定租户。
func (r *entityRepository) FindAppCallForTenant(tenantID, callID string) (*model.AppCall, error) {
	var call model.AppCall
	err := r.db.
		Joins("JOIN sellers ON sellers.id = app_calls.user_id AND sellers.agency_id = ?", tenantID).
		Where("app_calls.id = ?", callID).
		First(&call).Error
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// ListMeetingIDs 返回租户下全部会谈的主键，供重建索引时投递任务。
func (r *entityRepository) ListMeetingIDs(tenantID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.Meeting{}).
		Joins("JOIN sellers ON sellers.id = meetings.seller_id AND sellers.agency_id = ?", tenantID).
		Pluck("meetings.id", &ids).Error
	return ids, err
}

// ListBuyerIDs 返回租户下全部买家的主键。
func (r *entityRepository) ListBuyerIDs(tenantID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.Buyer{}).Where("agency_id = ?", tenantID).Pluck("id", &ids).Error
	return ids, err
}

// ListSellerIDs 返回租户下全部销售人员的主键。
func (r *entityRepository) ListSellerIDs(tenantID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.Seller{}).Where("agency_id = ?", tenantID).Pluck("id", &ids).Error
	return ids, err
}

// ListProductIDs 返回租户下全部产品的主键。
func (r *entityRepository) ListProductIDs(tenantID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.Product{}).Where("agency_id = ?", tenantID).Pluck("id", &ids).Error
	return ids, err
}

// ListAppCallIDs 返回租户下全部呼叫记录的主键。
func (r *entityRepository) ListAppCallIDs(tenantID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.AppCall{}).
		Joins("JOIN sellers ON sellers.id = app_calls.user_id AND sellers.agency_id = ?", tenantID).
		Pluck("app_calls.id", &ids).Error
	return ids, err
}
