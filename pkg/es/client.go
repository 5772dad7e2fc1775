// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"salespulse-go/internal/config"
	"salespulse-go/internal/model"
	"salespulse-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 语义文档集合：租户/类型/实体引用均为 keyword 精确过滤字段，
	// 向量维度与 embedding 部署保持一致（参考值 1536），cosine 相似度。
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"type": { "type": "keyword" },
				"text": { "type": "text" },
				"meta": { "type": "object", "enabled": true },
				"tenant_id": { "type": "keyword" },
				"meeting_id": { "type": "keyword" },
				"buyer_id": { "type": "keyword" },
				"product_id": { "type": "keyword" },
				"seller_id": { "type": "keyword" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"created_at": { "type": "date" },
				"updated_at": { "type": "date" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexDocument 将单个语义文档索引到 Elasticsearch。
// 文档 ID 是确定性的，重复写入同一 ID 时整体覆盖旧文档。
func IndexDocument(ctx context.Context, indexName string, doc model.SemanticDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}

	return nil
}

// DeleteByQuery 按查询条件删除文档，调用方负责把删除范围收窄到单个实体。
func DeleteByQuery(ctx context.Context, indexName string, query map[string]interface{}) error {
	body := map[string]interface{}{"query": query}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}

	res, err := ESClient.DeleteByQuery(
		[]string{indexName},
		bytes.NewReader(bodyBytes),
		ESClient.DeleteByQuery.WithContext(ctx),
		ESClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按查询删除 Elasticsearch 文档出错: %s", res.String())
		return errors.New("failed to delete documents by query")
	}
	return nil
}

// DeleteByIDs 按 ID 列表删除文档，用于写入中途失败时的补偿回滚。
func DeleteByIDs(ctx context.Context, indexName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idValues := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		idValues = append(idValues, id)
	}
	return DeleteByQuery(ctx, indexName, map[string]interface{}{
		"ids": map[string]interface{}{"values": idValues},
	})
}
