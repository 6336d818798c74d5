// Package guardrail 提供数学领域的输入校验与输出格式化。
//
// 校验是基于关键词和正则的启发式分类器，不是解析器，允许一定的误判。
// 调用方只依赖 Classifier / Formatter 接口，之后可以替换为训练好的分类器。
package guardrail

import (
	"regexp"
	"strings"
)

// Classifier 判断一段自由文本是否属于数学问题。
type Classifier interface {
	Validate(text string) (bool, string)
}

// Formatter 将非正式的数学写法改写为符号化形式。
type Formatter interface {
	Format(text string) string
}

// 校验结果对用户展示的提示语
const (
	MsgEmptyInput    = "Please provide a mathematical question or problem."
	MsgNonMath       = "I'm designed specifically for mathematical problems. Please ask a maths related question."
	MsgValid         = "Valid mathematical input"
	MsgEdgeCase      = "Potentially maths problem, so proceed with caution"
	MsgNotMathematic = "This doesn't appear to be a mathematical question. I specialize in solving math problems. Please ask about equations, calculations, or mathematical concepts."
)

var defaultKeywords = []string{
	"solve", "equation", "derivative", "integral", "function", "graph", "plot",
	"algebra", "calculus", "geometry", "trigonometry", "statistics", "probability",
	"matrix", "vector", "limit", "series", "theorem", "proof", "formula",
	"calculate", "compute", "simplify", "factor", "expand", "evaluate",
	"polynomial", "exponential", "logarithm", "sine", "cosine", "tangent",
	"differential", "optimization", "minimum", "maximum", "area", "volume",
	"perimeter", "distance", "slope", "intercept", "quadratic", "linear",
	"parabola", "circle", "triangle", "rectangle", "sphere", "cylinder",
	"binomial", "factorial", "permutation", "combination", "variance", "deviation",
}

var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[+\-*/=<>≤≥≠±∞]`),
	regexp.MustCompile(`[xy]\^?\d*`),
	regexp.MustCompile(`\d+[xy]`),
	regexp.MustCompile(`(?i)sin|cos|tan|log|ln|sqrt`),
	regexp.MustCompile(`∫|∑|∏|∂|∆|π|θ|α|β|γ|λ|μ|σ`),
	regexp.MustCompile(`\b\d+\.\d+\b`),
	regexp.MustCompile(`\b\d+/\d+\b`),
	regexp.MustCompile(`\([^)]*[xy][^)]*\)`),
	regexp.MustCompile(`[a-z]\s*²|[a-z]\s*³`),
}

var defaultNonMathIndicators = []string{
	"write a story", "tell me a joke", "weather", "news", "recipe",
	"movie", "book recommendation", "health advice", "relationship",
	"what is your opinion", "how do you feel", "personal experience",
}

var defaultEdgeCaseWords = []string{"find", "what is", "how much", "calculate"}

type replacement struct {
	pattern *regexp.Regexp
	repl    string
}

// 顺序敏感：分数规则必须在指数规则之前，数字指数必须在字母指数之前。
// RE2 的 \b 只把 ASCII 字母数字当作单词字符，"épi" 中的 pi 也会被替换。
var defaultReplacements = []replacement{
	{regexp.MustCompile(`(\d+)/(\d+)`), `\frac{${1}}{${2}}`},
	{regexp.MustCompile(`\^(\d+)`), `^{${1}}`},
	{regexp.MustCompile(`\^([a-zA-Z]+)`), `^{${1}}`},
	{regexp.MustCompile(`sqrt\(([^)]+)\)`), `\sqrt{${1}}`},
	{regexp.MustCompile(`√\(([^)]+)\)`), `\sqrt{${1}}`},
	{regexp.MustCompile(`(?i)\bpi\b`), "π"},
	{regexp.MustCompile(`(?i)\binfinity\b`), "∞"},
	{regexp.MustCompile(`(?i)\btheta\b`), "θ"},
	{regexp.MustCompile(`(?i)\balpha\b`), "α"},
	{regexp.MustCompile(`(?i)\bbeta\b`), "β"},
	{regexp.MustCompile(`(?i)\bgamma\b`), "γ"},
	{regexp.MustCompile(`d/dx`), `\frac{d}{dx}`},
	{regexp.MustCompile(`(?i)\bintegral\b`), "∫"},
}

// MathGuardrail 同时实现 Classifier 和 Formatter。
type MathGuardrail struct {
	keywords          []string
	patterns          []*regexp.Regexp
	nonMathIndicators []string
	edgeCaseWords     []string
	replacements      []replacement
}

var (
	_ Classifier = (*MathGuardrail)(nil)
	_ Formatter  = (*MathGuardrail)(nil)
)

// New 使用内置的关键词、正则和替换规则创建 MathGuardrail。
func New() *MathGuardrail {
	return &MathGuardrail{
		keywords:          defaultKeywords,
		patterns:          defaultPatterns,
		nonMathIndicators: defaultNonMathIndicators,
		edgeCaseWords:     defaultEdgeCaseWords,
		replacements:      defaultReplacements,
	}
}

// Validate 判断输入是否为数学问题，返回 (是否有效, 提示语)。
// 非数学短语的拒绝优先于任何接受规则。
func (g *MathGuardrail) Validate(text string) (bool, string) {
	if strings.TrimSpace(text) == "" {
		return false, MsgEmptyInput
	}

	lower := strings.ToLower(strings.TrimSpace(text))

	if containsAny(lower, g.nonMathIndicators) {
		return false, MsgNonMath
	}

	if containsAny(lower, g.keywords) || g.matchesPattern(lower) {
		return true, MsgValid
	}

	if containsAny(lower, g.edgeCaseWords) {
		return true, MsgEdgeCase
	}

	return false, MsgNotMathematic
}

// Format 按顺序应用替换规则。
func (g *MathGuardrail) Format(text string) string {
	if text == "" {
		return text
	}
	formatted := text
	for _, r := range g.replacements {
		formatted = r.pattern.ReplaceAllString(formatted, r.repl)
	}
	return formatted
}

func (g *MathGuardrail) matchesPattern(text string) bool {
	for _, p := range g.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
