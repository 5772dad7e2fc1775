package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDocIDDeterministic(t *testing.T) {
	a := BuildDocID("meeting.transcript", "meeting-1", 0)
	b := BuildDocID("meeting.transcript", "meeting-1", 0)
	assert.Equal(t, a, b)

	// UUID 形态
	assert.Len(t, a, 36)
}

func TestBuildDocIDDistinct(t *testing.T) {
	base := BuildDocID("meeting.transcript", "meeting-1", 0)

	assert.NotEqual(t, base, BuildDocID("meeting.transcript", "meeting-1", 1))
	assert.NotEqual(t, base, BuildDocID("meeting.transcript", "meeting-2", 0))
	assert.NotEqual(t, base, BuildDocID("meeting.key_point", "meeting-1", 0))
}

func TestChunkTextShortInput(t *testing.T) {
	chunks := ChunkText("hello world")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])

	assert.Nil(t, ChunkText(""))
	assert.Nil(t, ChunkText("   \n\t "))
}

func TestChunkTextWithOverlap(t *testing.T) {
	words := make([]string, 250)
	for i := range words {
		words[i] = "w"
	}
	chunks := ChunkTextWith(strings.Join(words, " "), 77, 0.15) // 100 词/块

	require.Greater(t, len(chunks), 1)
	// 步长 = 100 - 15，首块满额
	assert.Len(t, strings.Fields(chunks[0]), 100)
	// 相邻块有重叠：总词数大于原文词数
	total := 0
	for _, c := range chunks {
		total += len(strings.Fields(c))
	}
	assert.Greater(t, total, 250)
}

func TestChunkTextWithMinimumChunkSize(t *testing.T) {
	words := make([]string, 120)
	for i := range words {
		words[i] = "w"
	}
	// 目标 token 过小时块大小下限为 50 词
	chunks := ChunkTextWith(strings.Join(words, " "), 10, 0.15)
	assert.Len(t, strings.Fields(chunks[0]), 50)
}

func TestRefFieldFor(t *testing.T) {
	refs := EntityRefs{MeetingID: "m1", BuyerID: "b1", ProductID: "p1", SellerID: "s1"}

	field, value := refFieldFor("meeting.transcript", refs)
	assert.Equal(t, "meeting_id", field)
	assert.Equal(t, "m1", value)

	field, value = refFieldFor("buyer.profile", refs)
	assert.Equal(t, "buyer_id", field)
	assert.Equal(t, "b1", value)

	field, value = refFieldFor("app.call", refs)
	assert.Equal(t, "seller_id", field)
	assert.Equal(t, "s1", value)

	field, _ = refFieldFor("unknown.kind", refs)
	assert.Empty(t, field)
}

func TestUpsertDocumentsDisabled(t *testing.T) {
	svc := NewIndexService(nil, "semantic_documents", false)

	ids, err := svc.UpsertDocuments(context.Background(), "meeting.transcript", "m1", "agency-1", []string{"text"}, nil, EntityRefs{MeetingID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpsertDocumentsEmptyChunks(t *testing.T) {
	svc := NewIndexService(nil, "semantic_documents", true)

	ids, err := svc.UpsertDocuments(context.Background(), "meeting.transcript", "m1", "agency-1", nil, nil, EntityRefs{MeetingID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpsertDocumentsRequiresTenant(t *testing.T) {
	svc := NewIndexService(nil, "semantic_documents", true)

	_, err := svc.UpsertDocuments(context.Background(), "meeting.transcript", "m1", "", []string{"text"}, nil, EntityRefs{MeetingID: "m1"})
	require.Error(t, err)
}
