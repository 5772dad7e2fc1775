// Package pipeline 实现了语义索引任务的消费处理链路。
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"salespulse-go/internal/repository"
	"salespulse-go/internal/service"
	"salespulse-go/pkg/log"
	"salespulse-go/pkg/storage"
	"salespulse-go/pkg/tasks"
)

// 支持的语义文档类型。
const (
	DocTypeMeetingTranscript = "meeting.transcript"
	DocTypeMeetingKeyPoint   = "meeting.key_point"
	DocTypeBuyerProfile      = "buyer.profile"
	DocTypeSellerProfile     = "seller.profile"
	DocTypeProductCatalog    = "product.catalog"
	DocTypeAppCall           = "app.call"
)

// Processor 消费索引任务：按 doc_type 加载源实体、派生文本、分块并幂等写入。
type Processor struct {
	entityRepo   repository.EntityRepository
	sellerRepo   repository.SellerRepository
	indexService service.IndexService
	bucketName   string
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(entityRepo repository.EntityRepository, sellerRepo repository.SellerRepository, indexService service.IndexService, bucketName string) *Processor {
	return &Processor{
		entityRepo:   entityRepo,
		sellerRepo:   sellerRepo,
		indexService: indexService,
		bucketName:   bucketName,
	}
}

// Process 处理单个索引任务。返回错误时由消费者按失败计数决定重试或放弃。
func (p *Processor) Process(ctx context.Context, task tasks.IndexingTask) error {
	log.Infof("[Pipeline] 步骤1: 开始处理索引任务 %s", task.Key())

	switch task.DocType {
	case DocTypeMeetingTranscript:
		return p.indexMeetingTranscript(ctx, task)
	case DocTypeMeetingKeyPoint:
		return p.indexMeetingKeyPoints(ctx, task)
	case DocTypeBuyerProfile:
		return p.indexBuyerProfile(ctx, task)
	case DocTypeSellerProfile:
		return p.indexSellerProfile(ctx, task)
	case DocTypeProductCatalog:
		return p.indexProductCatalog(ctx, task)
	case DocTypeAppCall:
		return p.indexAppCall(ctx, task)
	default:
		// 未知类型不重试，直接吞掉并记日志
		log.Warnf("[Pipeline] 未知的 doc_type, 跳过: %s", task.DocType)
		return nil
	}
}

// indexMeetingTranscript 索引会谈转写全文。超长转写存放在 MinIO 时先取回对象内容。
func (p *Processor) indexMeetingTranscript(ctx context.Context, task tasks.IndexingTask) error {
	meeting, err := p.entityRepo.FindMeetingForTenant(task.TenantID, task.EntityID)
	if err != nil {
		return fmt.Errorf("加载会谈失败: %w", err)
	}

	transcript := meeting.Transcription
	if transcript == "" && meeting.TranscriptObject != "" {
		log.Infof("[Pipeline] 步骤2: 从对象存储取回转写 %s", meeting.TranscriptObject)
		transcript, err = storage.FetchObjectText(ctx, p.bucketName, meeting.TranscriptObject)
		if err != nil {
			return fmt.Errorf("取回转写对象失败: %w", err)
		}
	}
	if strings.TrimSpace(transcript) == "" {
		log.Infof("[Pipeline] 会谈 %s 没有转写内容, 跳过", meeting.ID)
		return nil
	}

	chunks := service.ChunkText(transcript)
	meta := map[string]string{
		"seller_id":  meeting.SellerID,
		"buyer_id":   meeting.BuyerID,
		"direction":  meeting.Direction,
		"start_time": meeting.StartTime.Format(time.RFC3339),
	}

	_, err = p.indexService.UpsertDocuments(ctx, DocTypeMeetingTranscript, meeting.ID, task.TenantID, chunks, meta, service.EntityRefs{
		MeetingID: meeting.ID,
		BuyerID:   meeting.BuyerID,
		SellerID:  meeting.SellerID,
	})
	return err
}

// indexMeetingKeyPoints 索引会谈要点。Summary 列存 JSON 数组，每个要点一个分块。
func (p *Processor) indexMeetingKeyPoints(ctx context.Context, task tasks.IndexingTask) error {
	meeting, err := p.entityRepo.FindMeetingForTenant(task.TenantID, task.EntityID)
	if err != nil {
		return fmt.Errorf("加载会谈失败: %w", err)
	}
	if meeting.Summary == "" {
		return nil
	}

	var bullets []string
	if err := json.Unmarshal([]byte(meeting.Summary), &bullets); err != nil {
		// 兼容 {"bullets": [...]} 形式
		var wrapped struct {
			Bullets []string `json:"bullets"`
		}
		if err := json.Unmarshal([]byte(meeting.Summary), &wrapped); err != nil {
			log.Warnf("[Pipeline] 会谈 %s 的 summary 不是可解析的 JSON, 跳过", meeting.ID)
			return nil
		}
		bullets = wrapped.Bullets
	}

	chunks := make([]string, 0, len(bullets))
	for _, b := range bullets {
		if strings.TrimSpace(b) != "" {
			chunks = append(chunks, b)
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	meta := map[string]string{
		"intent":     "summary",
		"seller_id":  meeting.SellerID,
		"buyer_id":   meeting.BuyerID,
		"start_time": meeting.StartTime.Format(time.RFC3339),
	}
	_, err = p.indexService.UpsertDocuments(ctx, DocTypeMeetingKeyPoint, meeting.ID, task.TenantID, chunks, meta, service.EntityRefs{
		MeetingID: meeting.ID,
		BuyerID:   meeting.BuyerID,
		SellerID:  meeting.SellerID,
	})
	return err
}

// indexBuyerProfile 索引买家画像，单分块。
func (p *Processor) indexBuyerProfile(ctx context.Context, task tasks.IndexingTask) error {
	buyer, err := p.entityRepo.FindBuyerForTenant(task.TenantID, task.EntityID)
	if err != nil {
		return fmt.Errorf("加载买家失败: %w", err)
	}

	text := joinNonEmpty("\n",
		labeled("Name", buyer.Name),
		labeled("Email", buyer.Email),
		labeled("Phone", buyer.Phone),
		labeled("Company", buyer.CompanyName),
		labeled("Tags", buyer.Tags),
	)
	if text == "" {
		return nil
	}

	_, err = p.indexService.UpsertDocuments(ctx, DocTypeBuyerProfile, buyer.ID, task.TenantID, []string{text}, map[string]string{}, service.EntityRefs{
		BuyerID: buyer.ID,
	})
	return err
}

// indexSellerProfile 索引销售人员画像，单分块。
func (p *Processor) indexSellerProfile(ctx context.Context, task tasks.IndexingTask) error {
	seller, err := p.sellerRepo.FindByID(task.EntityID)
	if err != nil {
		return fmt.Errorf("加载销售人员失败: %w", err)
	}
	if seller.AgencyID != task.TenantID {
		return fmt.Errorf("销售人员 %s 不属于租户 %s", seller.ID, task.TenantID)
	}

	text := joinNonEmpty("\n",
		labeled("Name", seller.Name),
		labeled("Email", seller.Email),
		labeled("Phone", seller.Phone),
		labeled("Role", seller.Role),
	)
	if text == "" {
		return nil
	}

	_, err = p.indexService.UpsertDocuments(ctx, DocTypeSellerProfile, seller.ID, task.TenantID, []string{text}, map[string]string{}, service.EntityRefs{
		SellerID: seller.ID,
	})
	return err
}

// indexProductCatalog 索引产品目录条目，单分块。
func (p *Processor) indexProductCatalog(ctx context.Context, task tasks.IndexingTask) error {
	product, err := p.entityRepo.FindProductForTenant(task.TenantID, task.EntityID)
	if err != nil {
		return fmt.Errorf("加载产品失败: %w", err)
	}

	text := joinNonEmpty("\n",
		labeled("Name", product.Name),
		labeled("Description", product.Description),
		labeled("Features", product.Features),
	)
	if text == "" {
		return nil
	}

	_, err = p.indexService.UpsertDocuments(ctx, DocTypeProductCatalog, product.ID, task.TenantID, []string{text}, map[string]string{}, service.EntityRefs{
		ProductID: product.ID,
	})
	return err
}

// indexAppCall 索引呼叫记录的文字化描述，单分块。
func (p *Processor) indexAppCall(ctx context.Context, task tasks.IndexingTask) error {
	call, err := p.entityRepo.FindAppCallForTenant(task.TenantID, task.EntityID)
	if err != nil {
		return fmt.Errorf("加载呼叫记录失败: %w", err)
	}

	text := joinNonEmpty("\n",
		labeled("Call type", call.CallType),
		labeled("Status", call.Status),
		labeled("Seller number", call.SellerNumber),
		labeled("Buyer number", call.BuyerNumber),
		labeled("Start", call.StartTime.Format(time.RFC3339)),
		labeled("Duration seconds", fmt.Sprintf("%d", call.Duration)),
	)

	meta := map[string]string{
		"call_type": call.CallType,
		"status":    call.Status,
	}
	_, err = p.indexService.UpsertDocuments(ctx, DocTypeAppCall, call.ID, task.TenantID, []string{text}, meta, service.EntityRefs{
		SellerID: call.UserID,
	})
	return err
}

func labeled(label, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return label + ": " + value
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
