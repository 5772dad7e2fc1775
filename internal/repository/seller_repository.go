// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"gorm.io/gorm"

	"salespulse-go/internal/model"
)

// SellerRepository 接口定义了销售人员数据的持久化操作。
type SellerRepository interface {
	FindByEmail(email string) (*model.Seller, error)
	FindByID(sellerID string) (*model.Seller, error)
	FindByNameLike(tenantID, name string) ([]model.Seller, error)
	FindIDsByTenant(tenantID string) ([]string, error)
}

// sellerRepository 是 SellerRepository 接口的 GORM 实现。
type sellerRepository struct {
	db *gorm.DB
}

// NewSellerRepository 创建一个新的 SellerRepository 实例。
func NewSellerRepository(db *gorm.DB) SellerRepository {
	return &sellerRepository{db: db}
}

// FindByEmail 根据邮箱从数据库中查找一个销售人员。
func (r *sellerRepository) FindByEmail(email string) (*model.Seller, error) {
	var seller model.Seller
	err := r.db.Where("email = ?", email).First(&seller).Error
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

// FindByID 根据主键查找一个销售人员。
func (r *sellerRepository) FindByID(sellerID string) (*model.Seller, error) {
	var seller model.Seller
	err := r.db.Where("id = ?", sellerID).First(&seller).Error
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

// FindByNameLike 在租户范围内按姓名模糊匹配销售人员。
func (r *sellerRepository) FindByNameLike(tenantID, name string) ([]model.Seller, error) {
	var sellers []model.Seller
	err := r.db.Where("agency_id = ? AND name LIKE ?", tenantID, "%"+name+"%").Find(&sellers).Error
	return sellers, err
}

// FindIDsByTenant 返回租户下全部销售人员的主键集合。
// 事实表没有租户列，所有按租户的统计都先经过这一步。
func (r *sellerRepository) FindIDsByTenant(tenantID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.Seller{}).Where("agency_id = ?", tenantID).Pluck("id", &ids).Error
	return ids, err
}
