package service

import (
	"errors"

	"gorm.io/gorm"

	"salespulse-go/internal/model"
	"salespulse-go/internal/repository"
	"salespulse-go/pkg/hash"
	"salespulse-go/pkg/log"
	"salespulse-go/pkg/token"
)

// SellerService 接口定义了销售人员账号相关的业务操作。
type SellerService interface {
	Login(email, password string) (accessToken, refreshToken string, err error)
	GetByID(sellerID string) (*model.Seller, error)
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// sellerService 是 SellerService 接口的实现。
type sellerService struct {
	sellerRepo repository.SellerRepository
	jwtManager *token.JWTManager
}

// NewSellerService 创建一个新的 SellerService 实例。
func NewSellerService(sellerRepo repository.SellerRepository, jwtManager *token.JWTManager) SellerService {
	return &sellerService{sellerRepo: sellerRepo, jwtManager: jwtManager}
}

// Login 处理登录：校验邮箱与密码，签发访问与刷新两枚 token。
func (s *sellerService) Login(email, password string) (string, string, error) {
	seller, err := s.sellerRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", errors.New("invalid credentials")
		}
		return "", "", err
	}

	if !hash.CheckPasswordHash(password, seller.PasswordHash) {
		return "", "", errors.New("invalid credentials")
	}

	accessToken, err := s.jwtManager.GenerateToken(seller.ID, seller.Email, seller.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(seller.ID, seller.Email, seller.Role)
	if err != nil {
		return "", "", err
	}

	log.Infof("[SellerService] 登录成功, seller: %s", seller.ID)
	return accessToken, refreshToken, nil
}

// GetByID 按主键加载销售人员。
func (s *sellerService) GetByID(sellerID string) (*model.Seller, error) {
	return s.sellerRepo.FindByID(sellerID)
}

// RefreshToken 校验刷新 token 并重新签发两枚新 token。
// 重新查库确认账号仍然存在，避免给已删除账号续期。
func (s *sellerService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("无效或已过期的 refresh token")
	}

	seller, err := s.sellerRepo.FindByID(claims.SellerID)
	if err != nil {
		return "", "", errors.New("用户不存在")
	}

	newAccessToken, err := s.jwtManager.GenerateToken(seller.ID, seller.Email, seller.Role)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(seller.ID, seller.Email, seller.Role)
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}
