package sqlguard

import "strings"

// TokenKind 区分词法单元的类别。
type TokenKind int

const (
	TokenIdent  TokenKind = iota // 标识符或关键字（不带引号）
	TokenString                  // 单引号字符串字面量
	TokenNumber                  // 数字字面量
	TokenParam                   // @name 形式的命名参数
	TokenSymbol                  // 标点与运算符，单字符一枚
)

// Token 是一枚词法单元。Pos/End 是原文中的字节偏移，改写阶段用它们定位插入点。
type Token struct {
	Kind  TokenKind
	Text  string // 原文切片
	Lower string // 小写形式，便于关键字比较
	Pos   int
	End   int
}

// Tokenize 对 SQL 文本做一次轻量分词。
// 处理单引号字符串（'' 转义）、反引号/双引号标识符、行注释与块注释、@参数。
// 之前用正则直接扫原文会把字符串字面量里的 LIMIT/WHERE 当成子句边界，
// 分词后字面量成为单枚 Token，这类盲区随之关闭。
func Tokenize(sql string) []Token {
	var tokens []Token
	i := 0
	n := len(sql)

	for i < n {
		c := sql[i]

		// 空白
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++
			continue
		}

		// 行注释 --
		if c == '-' && i+1 < n && sql[i+1] == '-' {
			for i < n && sql[i] != '\n' {
				i++
			}
			continue
		}

		// 块注释 /* ... */
		if c == '/' && i+1 < n && sql[i+1] == '*' {
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2
			if i > n {
				i = n
			}
			continue
		}

		// 单引号字符串，'' 为转义
		if c == '\'' {
			start := i
			i++
			for i < n {
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			text := sql[start:i]
			tokens = append(tokens, Token{Kind: TokenString, Text: text, Lower: strings.ToLower(text), Pos: start, End: i})
			continue
		}

		// 反引号/双引号包裹的标识符
		if c == '`' || c == '"' {
			quote := c
			start := i
			i++
			for i < n && sql[i] != quote {
				i++
			}
			if i < n {
				i++
			}
			text := sql[start:i]
			inner := strings.Trim(text, string(quote))
			tokens = append(tokens, Token{Kind: TokenIdent, Text: text, Lower: strings.ToLower(inner), Pos: start, End: i})
			continue
		}

		// 命名参数 @name
		if c == '@' {
			start := i
			i++
			for i < n && isIdentChar(sql[i]) {
				i++
			}
			text := sql[start:i]
			tokens = append(tokens, Token{Kind: TokenParam, Text: text, Lower: strings.ToLower(text), Pos: start, End: i})
			continue
		}

		// 数字
		if c >= '0' && c <= '9' {
			start := i
			for i < n && (sql[i] >= '0' && sql[i] <= '9' || sql[i] == '.') {
				i++
			}
			text := sql[start:i]
			tokens = append(tokens, Token{Kind: TokenNumber, Text: text, Lower: text, Pos: start, End: i})
			continue
		}

		// 标识符/关键字
		if isIdentStart(c) {
			start := i
			for i < n && isIdentChar(sql[i]) {
				i++
			}
			text := sql[start:i]
			tokens = append(tokens, Token{Kind: TokenIdent, Text: text, Lower: strings.ToLower(text), Pos: start, End: i})
			continue
		}

		// 其余一律按单字符符号处理
		tokens = append(tokens, Token{Kind: TokenSymbol, Text: string(c), Lower: string(c), Pos: i, End: i + 1})
		i++
	}

	return tokens
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
