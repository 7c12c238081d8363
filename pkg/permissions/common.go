package permissions

// CRUDPermissions 生成资源的查看、创建、编辑、删除权限
func CRUDPermissions(resource string) []Permission {
	return []Permission{
		{Name: resource + ".view", DisplayName: "View " + resource, Description: "Permission to view " + resource + " data"},
		{Name: resource + ".create", DisplayName: "Create " + resource, Description: "Permission to create new " + resource},
		{Name: resource + ".edit", DisplayName: "Edit " + resource, Description: "Permission to edit existing " + resource},
		{Name: resource + ".delete", DisplayName: "Delete " + resource, Description: "Permission to delete " + resource},
	}
}

// AdminPermissions 生成服务的管理类权限
func AdminPermissions(service string) []Permission {
	return []Permission{
		{Name: service + ".admin.manage_users", DisplayName: "Manage Users", Description: "Permission to manage service users"},
		{Name: service + ".admin.view_logs", DisplayName: "View Logs", Description: "Permission to view service logs"},
		{Name: service + ".admin.export_data", DisplayName: "Export Data", Description: "Permission to export service data"},
		{Name: service + ".admin.manage_settings", DisplayName: "Manage Settings", Description: "Permission to manage service settings"},
	}
}
