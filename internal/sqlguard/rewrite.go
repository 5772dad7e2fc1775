package sqlguard

import (
	"fmt"
	"strings"
)

// EnsureTenantFilter 在租户过滤谓词缺失时把它注入进语句。
// 注入点按 Token 偏移定位：已有 WHERE 时在 WHERE 段末尾（下一个
// GROUP/ORDER/LIMIT 边界之前）追加 AND 条件，没有 WHERE 时在边界前补整个 WHERE。
// 字符串字面量不会被当作边界，定位完全依赖分词结果。
func EnsureTenantFilter(sql string) string {
	tokens := Tokenize(sql)
	tables := ExtractTables(tokens)

	alias, ok := tables[TenantScopeTable]
	if !ok {
		return sql
	}

	// 已有 alias.agency_id 引用则不再注入
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i].Kind == TokenIdent && tokens[i].Lower == alias &&
			tokens[i+1].Kind == TokenSymbol && tokens[i+1].Text == "." &&
			tokens[i+2].Kind == TokenIdent && tokens[i+2].Lower == TenantScopeColumn {
			return sql
		}
	}

	predicate := fmt.Sprintf("%s.%s = @tenant_id", alias, TenantScopeColumn)

	whereIdx := -1
	for i, t := range tokens {
		if t.Kind == TokenIdent && t.Lower == "where" {
			whereIdx = i
			break
		}
	}

	// WHERE 段（或整条语句）之后第一个子句边界的字节偏移
	boundaryPos := func(from int) int {
		for i := from; i < len(tokens); i++ {
			t := tokens[i]
			if t.Kind == TokenIdent && (t.Lower == "group" || t.Lower == "order" || t.Lower == "limit") {
				return t.Pos
			}
		}
		return -1
	}

	if whereIdx >= 0 {
		pos := boundaryPos(whereIdx + 1)
		if pos >= 0 {
			return strings.TrimRight(sql[:pos], " ") + " AND " + predicate + " " + sql[pos:]
		}
		return strings.TrimRight(sql, " ") + " AND " + predicate
	}

	pos := boundaryPos(0)
	if pos >= 0 {
		return strings.TrimRight(sql[:pos], " ") + " WHERE " + predicate + " " + sql[pos:]
	}
	return strings.TrimRight(sql, " ") + " WHERE " + predicate
}

// EnsureLimit 在语句没有 LIMIT 子句时追加一个行数上限。
// 已有 LIMIT（无论数值多大）时保持原样，保证最终语句恰好只有一个 LIMIT。
func EnsureLimit(sql string, maxRows int) string {
	for _, t := range Tokenize(sql) {
		if t.Kind == TokenIdent && t.Lower == "limit" {
			return sql
		}
	}
	return strings.TrimRight(sql, " ;\t\n") + fmt.Sprintf(" LIMIT %d", maxRows)
}

// NormalizeWhitespace 折叠多余空白。基于 Token 重建，字符串字面量内部原样保留。
func NormalizeWhitespace(sql string) string {
	tokens := Tokenize(sql)
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			prev := tokens[i-1]
			noSpaceBefore := t.Kind == TokenSymbol && (t.Text == "," || t.Text == ")" || t.Text == ".")
			noSpaceAfter := prev.Kind == TokenSymbol && (prev.Text == "(" || prev.Text == ".")
			if !noSpaceBefore && !noSpaceAfter {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.Text)
	}
	return b.String()
}
