package rbac

import "fmt"

// 权限常量
const (
	PermissionReadProject    = "project:read"
	PermissionSubmitEvidence = "evidence:submit"
	PermissionReviewEvidence = "milestone:review"
	PermissionReleaseFunds   = "funds:release"
	PermissionReturnFunds    = "funds:return"
	PermissionJudgeCondition = "condition:judge"
)

// 角色常量，与调用方在 X-Actor-Role 中声明的值一致
const (
	RoleDonor      = "Donor"
	RoleContractor = "Contractor"
	RoleAuditor    = "Auditor"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleDonor: {
		PermissionReadProject,
		PermissionReleaseFunds,
		PermissionReturnFunds,
	},
	RoleContractor: {
		PermissionReadProject,
		PermissionSubmitEvidence,
	},
	RoleAuditor: {
		PermissionReadProject,
		PermissionReviewEvidence,
		PermissionJudgeCondition,
	},
}

// HasPermission 检查角色是否有指定权限
// 角色只是调用方自行声明的，这里不做身份校验
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限，空角色视为未声明，直接放行
func CheckPermission(role string, permission string) error {
	if role == "" {
		return nil
	}
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Permission)
}
