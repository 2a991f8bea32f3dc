package model

import "time"

type Role string

const (
	RoleDonor      Role = "Donor"
	RoleContractor Role = "Contractor"
	RoleAuditor    Role = "Auditor"
)

// ParseRole 解析调用方声明的角色，空字符串返回 ("", true) 表示未声明
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case "":
		return "", true
	case RoleDonor, RoleContractor, RoleAuditor:
		return Role(s), true
	default:
		return "", false
	}
}

type MilestoneStatus string

const (
	StatusLocked            MilestoneStatus = "LOCKED"
	StatusEvidenceSubmitted MilestoneStatus = "EVIDENCE_SUBMITTED"
	StatusApproved          MilestoneStatus = "APPROVED"
	StatusRejected          MilestoneStatus = "REJECTED"
	StatusReleased          MilestoneStatus = "RELEASED"
	StatusExpired           MilestoneStatus = "EXPIRED"
)

// AllStatuses 按生命周期顺序列出全部状态
var AllStatuses = []MilestoneStatus{
	StatusLocked,
	StatusEvidenceSubmitted,
	StatusApproved,
	StatusRejected,
	StatusReleased,
	StatusExpired,
}

func (s MilestoneStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal 终态没有任何出边
func (s MilestoneStatus) Terminal() bool {
	return s == StatusReleased || s == StatusExpired
}

type VerificationType string

const (
	VerificationImage    VerificationType = "image"
	VerificationDocument VerificationType = "document"
	VerificationManual   VerificationType = "manual"
)

func (v VerificationType) Valid() bool {
	switch v {
	case VerificationImage, VerificationDocument, VerificationManual:
		return true
	}
	return false
}

// Judgeable manual 条件只能由 Auditor 人工判断
func (v VerificationType) Judgeable() bool {
	return v == VerificationImage || v == VerificationDocument
}

type FileType string

const (
	FileImage    FileType = "image"
	FileDocument FileType = "document"
)

type Condition struct {
	ID               string           `json:"id"`
	Description      string           `json:"description"`
	VerificationType VerificationType `json:"verificationType"`
}

type Evidence struct {
	URL         string    `json:"url"`
	Note        string    `json:"note"`
	SubmittedAt time.Time `json:"submittedAt"`
	FileData    string    `json:"fileData,omitempty"` // base64 或 data URL
	FileType    FileType  `json:"fileType,omitempty"`
	FileRef     string    `json:"fileRef,omitempty"` // 归档到对象存储后的引用
}

// HasFile 证据是否带有可供 judge 使用的文件
func (e *Evidence) HasFile() bool {
	return e != nil && (e.FileData != "" || e.FileRef != "")
}

type Milestone struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	TrancheAmount  float64         `json:"trancheAmount"`
	Deadline       time.Time       `json:"deadline"`
	Status         MilestoneStatus `json:"status"`
	Conditions     []Condition     `json:"conditions"`
	Evidence       *Evidence       `json:"evidence,omitempty"`
	AuditorComment *string         `json:"auditorComment,omitempty"`
	ApprovedAt     *time.Time      `json:"approvedAt,omitempty"`
	ReleasedAt     *time.Time      `json:"releasedAt,omitempty"`
}

type Project struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	DonorName      string       `json:"donorName"`
	ContractorName string       `json:"contractorName"`
	CreatedAt      time.Time    `json:"createdAt"`
	Milestones     []Milestone  `json:"milestones"`
	AuditLog       []AuditEntry `json:"auditLog"`
}

// MilestoneIndex 返回里程碑在项目中的位置，找不到返回 -1
func (p *Project) MilestoneIndex(milestoneID string) int {
	for i := range p.Milestones {
		if p.Milestones[i].ID == milestoneID {
			return i
		}
	}
	return -1
}

// Clone 深拷贝，store 之间传递时避免共享可变状态
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Milestones = make([]Milestone, len(p.Milestones))
	for i, m := range p.Milestones {
		c := m
		if m.Conditions != nil {
			c.Conditions = append([]Condition(nil), m.Conditions...)
		}
		if m.Evidence != nil {
			ev := *m.Evidence
			c.Evidence = &ev
		}
		if m.AuditorComment != nil {
			s := *m.AuditorComment
			c.AuditorComment = &s
		}
		if m.ApprovedAt != nil {
			t := *m.ApprovedAt
			c.ApprovedAt = &t
		}
		if m.ReleasedAt != nil {
			t := *m.ReleasedAt
			c.ReleasedAt = &t
		}
		out.Milestones[i] = c
	}
	out.AuditLog = append([]AuditEntry(nil), p.AuditLog...)
	return &out
}
