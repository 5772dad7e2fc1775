package sqlguard

import (
	"context"
	"errors"
	"os"
	"testing"

	"salespulse-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(_ context.Context, _ string) (string, error) {
	return f.response, f.err
}

type fakeExecutor struct {
	rows    []map[string]interface{}
	err     error
	lastSQL string
}

func (f *fakeExecutor) Query(_ context.Context, sqlText string, _ Params) ([]map[string]interface{}, error) {
	f.lastSQL = sqlText
	return f.rows, f.err
}

const validCandidate = "SELECT COUNT(*) AS total FROM meetings m JOIN sellers s ON m.seller_id = s.id WHERE s.agency_id = @tenant_id"

func TestExtractCandidateFromFencedBlock(t *testing.T) {
	raw := "Here you go:\n```sql\nSELECT id FROM sellers\n```"
	assert.Equal(t, "SELECT id FROM sellers", ExtractCandidate(raw))
}

func TestExtractCandidateFromJSON(t *testing.T) {
	raw := `{"sql": "SELECT id FROM sellers LIMIT 5"}`
	assert.Equal(t, "SELECT id FROM sellers LIMIT 5", ExtractCandidate(raw))
}

func TestExtractCandidateFromProse(t *testing.T) {
	raw := "The query you need is SELECT id FROM sellers;"
	assert.Equal(t, "SELECT id FROM sellers", ExtractCandidate(raw))
}

func TestExtractCandidateNoSQL(t *testing.T) {
	assert.Equal(t, "", ExtractCandidate("I cannot answer that."))
	assert.Equal(t, "", ExtractCandidate(""))
}

func TestRunnerSuccess(t *testing.T) {
	exec := &fakeExecutor{rows: []map[string]interface{}{{"total": int64(42)}}}
	r := NewRunner(&fakeCompleter{response: validCandidate}, exec, 200)

	res := r.Run(context.Background(), "how many calls last week", Params{TenantID: "agency-1"})

	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Len(t, res.Data, 1)
	assert.Contains(t, res.SQL, "LIMIT 200")
	assert.Equal(t, exec.lastSQL, res.SQL)
}

func TestRunnerRejectsForbiddenSQL(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(&fakeCompleter{response: "DROP TABLE sellers"}, exec, 200)

	res := r.Run(context.Background(), "how many calls", Params{TenantID: "agency-1"})

	// 没有 SELECT 前缀，提取阶段就给不出候选
	require.Equal(t, OutcomeRejected, res.Outcome)
	assert.Empty(t, exec.lastSQL)
}

func TestRunnerRejectsUnknownTable(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(&fakeCompleter{response: "SELECT * FROM secrets"}, exec, 200)

	res := r.Run(context.Background(), "how many calls", Params{TenantID: "agency-1"})

	require.Equal(t, OutcomeRejected, res.Outcome)
	assert.NotEmpty(t, res.Err)
	// 拒绝发生在任何执行动作之前
	assert.Empty(t, exec.lastSQL)
}

func TestRunnerInjectsTenantFilter(t *testing.T) {
	exec := &fakeExecutor{rows: []map[string]interface{}{{"total": int64(1)}}}
	candidate := "SELECT COUNT(*) FROM meetings m JOIN sellers s ON m.seller_id = s.id"
	r := NewRunner(&fakeCompleter{response: candidate}, exec, 200)

	res := r.Run(context.Background(), "how many calls", Params{TenantID: "agency-1"})

	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Contains(t, res.SQL, "s.agency_id = @tenant_id")
}

func TestRunnerEmptySuggestFallback(t *testing.T) {
	exec := &fakeExecutor{rows: nil}
	r := NewRunner(&fakeCompleter{response: validCandidate}, exec, 200)

	res := r.Run(context.Background(), "how many missed calls last week", Params{TenantID: "agency-1"})
	assert.Equal(t, OutcomeEmptySuggestFallback, res.Outcome)

	// 非缺席类措辞的零行结果仍是 Success
	res = r.Run(context.Background(), "how many calls last week", Params{TenantID: "agency-1"})
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestRunnerExecutionFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("connection reset")}
	r := NewRunner(&fakeCompleter{response: validCandidate}, exec, 200)

	res := r.Run(context.Background(), "how many calls", Params{TenantID: "agency-1"})

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err, "connection reset")
}

func TestRunnerLLMFailure(t *testing.T) {
	r := NewRunner(&fakeCompleter{err: errors.New("timeout")}, &fakeExecutor{}, 200)

	res := r.Run(context.Background(), "how many calls", Params{TenantID: "agency-1"})
	assert.Equal(t, OutcomeFailed, res.Outcome)
}
