package service

import (
	"context"
	"fmt"
	"time"

	"math-agent-go/internal/agent"
	"math-agent-go/internal/guardrail"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/metrics"
)

// 阶段名，用于日志和指标
const (
	stageResearch = "research"
	stageSolve    = "solve"
	stageRevise   = "revise"
)

const researchSystemPrompt = `You are a Senior Mathematics Researcher.
STRICT GUIDELINES:
    - ONLY respond to mathematics-related queries
    - If asked about non math topics, respond: "I only help with mathematical problems"
    - Use RAG tool first to search mathematical knowledge base
    - Use web search only if RAG results are insufficient
    - Provide comprehensive mathematical context including:
        1.Relevant definitions and concepts
        2.Applicable formulas and theorems
        3.Common solution approaches
        4.Mathematical background

Focus on accuracy and mathematical rigor.`

const solverSystemPrompt = `You are an Expert Mathematics Solver.
STRICT GUIDELINES:
    - ONLY solve mathematical problems
    - Provide complete step-by-step solutions
    - Explain reasoning for each step clearly
    - Show all calculations and work
    - Use proper mathematical notation
    - Verify solutions when possible
    - Include final answers clearly marked

SOLUTION FORMAT:
    1. State the problem clearly
    2. Identify the mathematical approach
    3. Show step-by-step work with explanations
    4. Verify the solution if possible
    5. State the final answer prominently
Maintain mathematical accuracy and clarity throughout.`

// 全部策略都失败时返回给用户的兜底文本
const (
	researchFallbackText = "I'll solve this mathematical problem using fundamental principles."
	solveErrorPrefix     = "I encountered an error solving this problem: "
	reviseErrorPrefix    = "I encountered an error improving the solution: "
)

// TutorService 封装研究、求解、修订三个阶段。
// 三个方法都不返回错误：失败时输出兜底文本。
type TutorService interface {
	Research(ctx context.Context, topic string) string
	Solve(ctx context.Context, topic, researchContext string) string
	Revise(ctx context.Context, originalSolution, feedback, topic string) string
}

type tutorService struct {
	classifier guardrail.Classifier
	formatter  guardrail.Formatter
	researcher agent.Strategy // 可以为 nil
	solver     agent.Strategy // 可以为 nil
	fallback   agent.Strategy
}

// NewTutorService 创建一个新的 TutorService 实例。
// researcher / solver 为 nil 表示 Agent 不可用，直接走 fallback。
func NewTutorService(classifier guardrail.Classifier, formatter guardrail.Formatter, researcher, solver, fallback agent.Strategy) TutorService {
	return &tutorService{
		classifier: classifier,
		formatter:  formatter,
		researcher: researcher,
		solver:     solver,
		fallback:   fallback,
	}
}

// Research 为题目整理相关的定义、公式和解法思路。
func (s *tutorService) Research(ctx context.Context, topic string) string {
	if ok, msg := s.classifier.Validate(topic); !ok {
		log.Infof("[TutorService] 研究阶段拒绝非数学输入: %s", msg)
		return msg
	}
	log.Infof("[TutorService] 开始研究: %s", topic)

	agentPrompt := fmt.Sprintf("Provide comprehensive mathematical research and context for: %s\n\n"+
		"Include relevant definitions, formulas, theorems, and solution approaches.", topic)
	fallbackPrompt := fmt.Sprintf(`Research mathematical context for: %s
Provide:
1. Relevant mathematical concepts and definitions
2. Applicable formulas and theorems
3. Common solution methods
4. Mathematical background and theory
Focus on information needed to solve this type of problem.`, topic)

	out, err := s.run(ctx, stageResearch, s.researcher, researchSystemPrompt, agentPrompt, fallbackPrompt)
	if err != nil {
		log.Errorf("[TutorService] 研究阶段全部策略失败: %v", err)
		return researchFallbackText
	}
	return out
}

// Solve 基于研究上下文给出分步解答。
func (s *tutorService) Solve(ctx context.Context, topic, researchContext string) string {
	if ok, msg := s.classifier.Validate(topic); !ok {
		log.Infof("[TutorService] 求解阶段拒绝非数学输入: %s", msg)
		return msg
	}
	log.Infof("[TutorService] 开始求解: %s", topic)

	agentPrompt := fmt.Sprintf("RESEARCH CONTEXT:\n%s\n\nPROBLEM TO SOLVE:\n%s\n\n"+
		"Provide a complete step-by-step solution with clear explanations for each step.", researchContext, topic)
	fallbackPrompt := fmt.Sprintf(`Solve this mathematical problem step by step:
PROBLEM: %s

CONTEXT: %s

Requirements:
- Provide complete step-by-step solution
- Explain mathematical reasoning for each step
- Show all calculations clearly
- Use proper mathematical notation
- State the final answer prominently

Solve systematically and thoroughly.`, topic, researchContext)

	out, err := s.run(ctx, stageSolve, s.solver, solverSystemPrompt, agentPrompt, fallbackPrompt)
	if err != nil {
		return solveErrorPrefix + err.Error()
	}
	return s.formatter.Format(out)
}

// Revise 根据用户反馈改进已有解答。题目在会话开始时已校验过，这里不再校验。
func (s *tutorService) Revise(ctx context.Context, originalSolution, feedback, topic string) string {
	log.Infof("[TutorService] 根据用户反馈改进解答")

	agentPrompt := fmt.Sprintf(`ORIGINAL PROBLEM: %s
ORIGINAL SOLUTION:
%s

HUMAN FEEDBACK: %s

Based on the feedback, improve the solution by:
- Addressing specific concerns or questions
- Providing additional explanations where needed
- Correcting any errors identified
- Adding more detail or alternative approaches
- Maintaining mathematical accuracy
Provide an improved, comprehensive solution that addresses the feedback.`, topic, originalSolution, feedback)
	fallbackPrompt := fmt.Sprintf(`Improve this mathematical solution based on feedback:
PROBLEM: %s
ORIGINAL SOLUTION: %s
FEEDBACK: %s

Provide an improved solution that addresses the feedback while maintaining accuracy.`, topic, originalSolution, feedback)

	out, err := s.run(ctx, stageRevise, s.solver, solverSystemPrompt, agentPrompt, fallbackPrompt)
	if err != nil {
		return reviseErrorPrefix + err.Error()
	}
	return s.formatter.Format(out)
}

// run 先尝试主策略，失败后用兜底提示词走 fallback 策略。返回 fallback 的错误。
func (s *tutorService) run(ctx context.Context, stage string, primary agent.Strategy, systemPrompt, agentPrompt, fallbackPrompt string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}()

	if primary != nil {
		out, err := primary.Run(ctx, systemPrompt, agentPrompt)
		if err == nil {
			metrics.StageOutcomes.WithLabelValues(stage, primary.Name(), "success").Inc()
			return out, nil
		}
		metrics.StageOutcomes.WithLabelValues(stage, primary.Name(), "failure").Inc()
		log.Warnf("[TutorService] %s 阶段 %s 策略失败, 改用兜底策略: %v", stage, primary.Name(), err)
	}

	out, err := s.fallback.Run(ctx, "", fallbackPrompt)
	if err != nil {
		metrics.StageOutcomes.WithLabelValues(stage, s.fallback.Name(), "failure").Inc()
		return "", err
	}
	metrics.StageOutcomes.WithLabelValues(stage, s.fallback.Name(), "success").Inc()
	return out, nil
}
