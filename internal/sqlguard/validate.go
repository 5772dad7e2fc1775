package sqlguard

import "fmt"

// forbiddenTokens 是独立出现即拒绝的 DDL/DML 关键字。
var forbiddenTokens = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"alter": true, "create": true, "grant": true, "revoke": true, "truncate": true,
}

// clauseKeywords 标记 FROM/JOIN 之后不能被当作别名的保留字。
var clauseKeywords = map[string]bool{
	"on": true, "using": true, "where": true, "group": true, "order": true,
	"limit": true, "left": true, "right": true, "full": true, "inner": true,
	"outer": true, "cross": true, "join": true, "select": true, "having": true,
	"union": true, "and": true, "or": true,
}

// ExtractTables 从 Token 流中提取 FROM/JOIN 引用的表及其别名（无别名时别名即表名）。
// 只认 FROM/JOIN 后的裸标识符这一有界子集：子查询、CTE 不在提取范围内
// （WITH 不是合法首关键字，会在 Validate 被直接拒绝），这是一个已知且刻意保留的边界。
func ExtractTables(tokens []Token) map[string]string {
	tables := make(map[string]string)
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.Kind != TokenIdent || (t.Lower != "from" && t.Lower != "join") {
			continue
		}
		if i+1 >= len(tokens) {
			break
		}
		next := tokens[i+1]
		// FROM ( ... ) 子查询：跳过，内层的 FROM/JOIN 仍会被整体扫描覆盖
		if next.Kind != TokenIdent || clauseKeywords[next.Lower] {
			continue
		}
		table := next.Lower
		alias := table
		j := i + 2
		if j < len(tokens) && tokens[j].Kind == TokenIdent && tokens[j].Lower == "as" {
			j++
		}
		if j < len(tokens) && tokens[j].Kind == TokenIdent && !clauseKeywords[tokens[j].Lower] {
			alias = tokens[j].Lower
		}
		tables[table] = alias
	}
	return tables
}

// Validate 对候选 SQL 做仅允许清单式的快速拒绝校验。
// 校验在任何执行动作之前完整结束；返回的 error 文本即拒绝原因。
func Validate(sql string, reg *Registry) error {
	tokens := Tokenize(sql)
	if len(tokens) == 0 {
		return fmt.Errorf("空 SQL")
	}

	// 仅允许单条 SELECT
	if tokens[0].Kind != TokenIdent || tokens[0].Lower != "select" {
		return fmt.Errorf("只允许 SELECT 语句")
	}
	for _, t := range tokens {
		if t.Kind == TokenSymbol && t.Text == ";" {
			return fmt.Errorf("不允许多条语句")
		}
		if t.Kind == TokenIdent && forbiddenTokens[t.Lower] {
			return fmt.Errorf("包含禁止的关键字: %s", t.Lower)
		}
	}

	// 表允许清单
	tables := ExtractTables(tokens)
	if len(tables) == 0 {
		return fmt.Errorf("未引用任何表")
	}
	for table := range tables {
		if !reg.IsAllowedTable(table) {
			return fmt.Errorf("引用了允许清单之外的表: %s", table)
		}
	}

	// 事实表必须带 sellers 连接，否则无法做租户过滤
	for table := range tables {
		if IsFactTable(table) {
			if _, ok := tables[TenantScopeTable]; !ok {
				return fmt.Errorf("事实表 %s 缺少 %s 连接", table, TenantScopeTable)
			}
		}
	}

	// WHERE 后紧跟子句关键字（或直接结束）视为畸形
	for i, t := range tokens {
		if t.Kind != TokenIdent || t.Lower != "where" {
			continue
		}
		if i+1 >= len(tokens) {
			return fmt.Errorf("WHERE 之后没有条件")
		}
		next := tokens[i+1]
		if next.Kind == TokenIdent && (next.Lower == "group" || next.Lower == "order" || next.Lower == "limit") {
			return fmt.Errorf("WHERE 之后紧跟子句关键字")
		}
	}

	// 防止把连接关键字误当别名来挂租户列，例如 left.agency_id
	for i := 0; i+2 < len(tokens); i++ {
		a, dot, b := tokens[i], tokens[i+1], tokens[i+2]
		if a.Kind == TokenIdent && dot.Kind == TokenSymbol && dot.Text == "." &&
			b.Kind == TokenIdent && b.Lower == TenantScopeColumn {
			switch a.Lower {
			case "on", "left", "right", "full", "inner", "outer", "cross":
				return fmt.Errorf("租户列挂在连接关键字上: %s.%s", a.Lower, TenantScopeColumn)
			}
		}
	}

	return nil
}
