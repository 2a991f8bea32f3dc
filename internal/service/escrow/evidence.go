package escrow

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"trancheflow/internal/model"
	"trancheflow/pkg/logger"
)

// prepareEvidence 校验证据并在配置了归档时把内联文件转存到对象存储
func (s *Service) prepareEvidence(ctx context.Context, p *model.Project, idx int, in EvidenceInput) (*model.Evidence, error) {
	if strings.TrimSpace(in.URL) == "" {
		return nil, newError(KindInvalidInput, "Evidence URL is required")
	}

	ev := &model.Evidence{
		URL:         in.URL,
		Note:        in.Note,
		SubmittedAt: s.now(),
	}
	if strings.TrimSpace(in.FileData) == "" {
		return ev, nil
	}

	fileType := in.FileType
	if fileType == "" {
		fileType = model.FileImage
	}
	if fileType != model.FileImage && fileType != model.FileDocument {
		return nil, newError(KindInvalidInput, "fileType must be image or document")
	}
	ev.FileType = fileType

	if s.archive == nil {
		ev.FileData = in.FileData
		return ev, nil
	}

	data, contentType, err := decodeFileData(in.FileData)
	if err != nil {
		return nil, newError(KindInvalidInput, "fileData is not valid base64: %v", err)
	}
	key := fmt.Sprintf("evidence/%s/%s/%s", p.ID, p.Milestones[idx].ID, s.newID())
	ref, err := s.archive.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("archive evidence: %w", err)
	}
	logger.WithTrace(ctx, s.logger).Info("Evidence file archived",
		zap.String("project_id", p.ID),
		zap.String("ref", ref),
		zap.Int("bytes", len(data)),
	)
	ev.FileRef = ref
	return ev, nil
}

// decodeFileData 支持 data URL 和裸 base64，content type 缺失时按内容探测
func decodeFileData(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	contentType := ""
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
		if !isBase64 {
			return nil, "", fmt.Errorf("data URL must be base64 encoded")
		}
		contentType = mediaType
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// evidenceImage 按 内联文件 → 归档文件 → URL 的顺序选出判定用的图片
func (s *Service) evidenceImage(ctx context.Context, ev *model.Evidence) (string, string, error) {
	if ev == nil {
		return "", "", nil
	}
	if ev.FileData != "" {
		return ev.FileData, "", nil
	}
	if ev.FileRef != "" && s.archive != nil {
		data, contentType, err := s.archive.Get(ctx, ev.FileRef)
		if err != nil {
			return "", "", fmt.Errorf("load archived evidence: %w", err)
		}
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), "", nil
	}
	return "", ev.URL, nil
}
