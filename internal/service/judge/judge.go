package judge

import (
	"context"
	"fmt"
	"strings"

	"trancheflow/pkg/metrics"
)

// Verdict 判定结果，仅供 Auditor 参考
type Verdict struct {
	Verified bool   `json:"verified"`
	Note     string `json:"note"`
}

// ImageInput 待判定的图片，Data 为 base64 或 data URL，优先于 URL
type ImageInput struct {
	URL  string
	Data string
}

// Present 是否提供了任何图片
func (i ImageInput) Present() bool {
	return strings.TrimSpace(i.Data) != "" || strings.TrimSpace(i.URL) != ""
}

// Judge 条件判定器，任何内部失败都转成降级 verdict，不向调用方返回错误
type Judge interface {
	Judge(ctx context.Context, description string, image ImageInput) Verdict
}

const (
	demoPrefix     = "[Demo] "
	degradedPrefix = "[Degraded] "
)

func noImageVerdict(description string, demo bool) Verdict {
	note := fmt.Sprintf("Provide imageUrl or imageBase64 for the judge to verify: %q", description)
	if demo {
		note = demoPrefix + note
	}
	return Verdict{Verified: false, Note: note}
}

// Stub 未配置判定服务时使用：有图即视为通过
type Stub struct{}

func (Stub) Judge(ctx context.Context, description string, image ImageInput) Verdict {
	description = strings.TrimSpace(description)
	if !image.Present() {
		metrics.IncrementJudgeVerdict("no_image", false)
		return noImageVerdict(description, true)
	}
	metrics.IncrementJudgeVerdict("stub", true)
	return Verdict{
		Verified: true,
		Note:     fmt.Sprintf("%sImage provided. Add OPENAI_API_KEY for real AI verification of: %q", demoPrefix, description),
	}
}

func degradedVerdict(description, reason string) Verdict {
	return Verdict{
		Verified: true,
		Note:     fmt.Sprintf("%sJudge unavailable (%s); image provided, verify manually: %q", degradedPrefix, reason, description),
	}
}

// toDataURL 裸 base64 默认当作 jpeg
func toDataURL(data string) string {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		return data
	}
	return "data:image/jpeg;base64," + data
}
