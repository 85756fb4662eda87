// Package assistant is the AI chat side panel: a Gemini-backed generator
// and the per-session conversation state.
package assistant

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	appLog "smartcal/internal/log"
)

// Fixed replies shown instead of an answer. They are never errors to the
// caller; the panel just displays them.
const (
	ReplyNoAPIKey = "API Key가 설정되지 않았습니다. 환경 변수를 확인해주세요."
	ReplyFailed   = "요청을 처리하는 중에 오류가 발생했습니다."
	ReplyEmpty    = "죄송합니다. 답변을 생성할 수 없습니다."
)

// Generator answers one prompt in the context of the month being viewed.
type Generator interface {
	Generate(ctx context.Context, prompt, dateContext string) string
}

// Recorder counts generation outcomes ("ok", "error", "empty", "no_key").
type Recorder interface {
	ChatRequest(outcome string)
}

// contentGenerator is the genai call the Gemini generator makes.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiOptions struct {
	APIKey      string
	Model       string
	Temperature float32
	Recorder    Recorder
}

// Gemini generates replies with the Gemini API. A Gemini without an API
// key is valid and always answers ReplyNoAPIKey.
type Gemini struct {
	models      contentGenerator
	model       string
	temperature float32
	rec         Recorder
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	g := &Gemini{model: opts.Model, temperature: opts.Temperature, rec: opts.Recorder}
	if g.model == "" {
		g.model = "gemini-2.5-flash"
	}
	if g.temperature <= 0 {
		g.temperature = 0.7
	}
	if opts.APIKey == "" {
		appLog.Warn("gemini api key not configured; chat answers with a notice")
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.models = client.Models
	return g, nil
}

// SystemInstruction is the persona given to the model.
func SystemInstruction(dateContext string) string {
	return strings.Join([]string{
		"당신은 2026년 달력 앱의 친절하고 유능한 AI 비서입니다.",
		"사용자의 일정 계획, 휴일 여행 추천, 기념일 축하 메시지 작성 등을 도와줍니다.",
		"현재 사용자가 보고 있는 달력의 기준 날짜는 " + dateContext + "입니다.",
		"한국의 문화와 휴일 맥락을 잘 이해하고 답변해주세요.",
		"답변은 마크다운 형식을 사용하여 깔끔하게 정리해주세요.",
	}, "\n")
}

// Generate issues exactly one request. No retries.
func (g *Gemini) Generate(ctx context.Context, prompt, dateContext string) string {
	if g.models == nil {
		g.record("no_key")
		return ReplyNoAPIKey
	}

	temp := g.temperature
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemInstruction(dateContext)}}},
		Temperature:       &temp,
	})
	if err != nil {
		appLog.Error("gemini generate failed", err, "model", g.model)
		g.record("error")
		return ReplyFailed
	}

	text := responseText(resp)
	if text == "" {
		g.record("empty")
		return ReplyEmpty
	}
	g.record("ok")
	return text
}

func (g *Gemini) record(outcome string) {
	if g.rec != nil {
		g.rec.ChatRequest(outcome)
	}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
