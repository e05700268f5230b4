package shared

// Fixed-asset permissions checked by the HTTP layer.
const (
	PermDepreciationView   = "asset.depreciation.view"
	PermDepreciationManage = "asset.depreciation.manage"

	PermAuditView    = "asset.audit.view"
	PermAuditManage  = "asset.audit.manage"
	PermAuditCapture = "asset.audit.capture"
	PermAuditApprove = "asset.audit.approve"
)

// AssetScopes lists all permissions related to fixed-asset depreciation and audits.
func AssetScopes() []string {
	return []string{
		PermDepreciationView,
		PermDepreciationManage,
		PermAuditView,
		PermAuditManage,
		PermAuditCapture,
		PermAuditApprove,
	}
}
